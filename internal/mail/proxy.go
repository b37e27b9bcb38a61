package mail

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// ProxyConfig selects how outbound connections to Microsoft are routed.
// SOCKS5 takes precedence when both are set.
type ProxyConfig struct {
	SOCKS5 string
	HTTP   string
}

// IsZero reports whether no proxy was requested.
func (p ProxyConfig) IsZero() bool {
	return p.SOCKS5 == "" && p.HTTP == ""
}

const proxyConnectTimeout = 10 * time.Second

// Dialer resolves the proxy config to a context-aware dialer for raw TCP
// connections (the IMAP path).
func (p ProxyConfig) Dialer() (proxy.ContextDialer, error) {
	direct := &net.Dialer{Timeout: proxyConnectTimeout}
	if p.SOCKS5 == "" {
		return direct, nil
	}

	u, err := url.Parse(coerceSocksURL(p.SOCKS5))
	if err != nil {
		return nil, fmt.Errorf("invalid socks5 proxy url: %w", err)
	}

	var auth *proxy.Auth
	if u.User != nil {
		password, _ := u.User.Password()
		auth = &proxy.Auth{User: u.User.Username(), Password: password}
	}

	d, err := proxy.SOCKS5("tcp", u.Host, auth, direct)
	if err != nil {
		return nil, fmt.Errorf("failed to build socks5 dialer: %w", err)
	}
	// golang.org/x/net/proxy returns a ContextDialer for SOCKS5.
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 dialer does not support context dialing")
	}
	return cd, nil
}

// Transport resolves the proxy config to an http.Transport for the Graph
// and OAuth paths.
func (p ProxyConfig) Transport() (*http.Transport, error) {
	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: proxyConnectTimeout}).DialContext,
		TLSHandshakeTimeout:   proxyConnectTimeout,
		ResponseHeaderTimeout: 30 * time.Second,
	}

	switch {
	case p.SOCKS5 != "":
		dialer, err := p.Dialer()
		if err != nil {
			return nil, err
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		}
	case p.HTTP != "":
		raw := p.HTTP
		if !strings.Contains(raw, "://") {
			raw = "http://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid http proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(u)
	}

	return transport, nil
}

// HTTPClient wraps Transport with the engine-wide request deadline.
func (p ProxyConfig) HTTPClient() (*http.Client, error) {
	transport, err := p.Transport()
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: transport, Timeout: 30 * time.Second}, nil
}

// coerceSocksURL accepts host:port shorthand for the socks5 parameter.
func coerceSocksURL(raw string) string {
	if strings.Contains(raw, "://") {
		return raw
	}
	return "socks5://" + raw
}
