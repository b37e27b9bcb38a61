package mail

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerceSocksURL(t *testing.T) {
	assert.Equal(t, "socks5://1.2.3.4:1080", coerceSocksURL("1.2.3.4:1080"))
	assert.Equal(t, "socks5://1.2.3.4:1080", coerceSocksURL("socks5://1.2.3.4:1080"))
	assert.Equal(t, "socks5h://proxy:1080", coerceSocksURL("socks5h://proxy:1080"))
}

func TestProxyConfig_IsZero(t *testing.T) {
	assert.True(t, ProxyConfig{}.IsZero())
	assert.False(t, ProxyConfig{SOCKS5: "1.2.3.4:1080"}.IsZero())
	assert.False(t, ProxyConfig{HTTP: "http://proxy:3128"}.IsZero())
}

func TestProxyConfig_DirectDialer(t *testing.T) {
	dialer, err := ProxyConfig{}.Dialer()
	require.NoError(t, err)
	assert.NotNil(t, dialer)
}

func TestProxyConfig_Socks5Dialer(t *testing.T) {
	dialer, err := ProxyConfig{SOCKS5: "user:pass@1.2.3.4:1080"}.Dialer()
	require.NoError(t, err)
	assert.NotNil(t, dialer)
}

func TestProxyConfig_Socks5TakesPrecedence(t *testing.T) {
	transport, err := ProxyConfig{SOCKS5: "1.2.3.4:1080", HTTP: "http://proxy:3128"}.Transport()
	require.NoError(t, err)
	// SOCKS5 routing replaces DialContext; the HTTP proxy must not be set.
	assert.Nil(t, transport.Proxy)
}

func TestProxyConfig_HTTPProxy(t *testing.T) {
	transport, err := ProxyConfig{HTTP: "proxy.example.com:3128"}.Transport()
	require.NoError(t, err)
	require.NotNil(t, transport.Proxy)

	req, _ := http.NewRequest(http.MethodGet, "https://graph.microsoft.com/v1.0/me", nil)
	u, err := transport.Proxy(req)
	require.NoError(t, err)
	assert.Equal(t, "http://proxy.example.com:3128", u.String())
}

func TestProxyConfig_InvalidSocksURL(t *testing.T) {
	_, err := ProxyConfig{SOCKS5: "socks5://bad\x00host"}.Dialer()
	assert.Error(t, err)
}
