package mail

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordConn captures the deadlines armed on it.
type recordConn struct {
	net.Conn
	readDeadlines  []time.Time
	writeDeadlines []time.Time
}

func (c *recordConn) Read(b []byte) (int, error)  { return 0, nil }
func (c *recordConn) Write(b []byte) (int, error) { return len(b), nil }

func (c *recordConn) SetReadDeadline(t time.Time) error {
	c.readDeadlines = append(c.readDeadlines, t)
	return nil
}

func (c *recordConn) SetWriteDeadline(t time.Time) error {
	c.writeDeadlines = append(c.writeDeadlines, t)
	return nil
}

func TestDeadlineConnArmsEveryOperation(t *testing.T) {
	rec := &recordConn{}
	conn := &deadlineConn{Conn: rec, timeout: 30 * time.Second}

	_, err := conn.Read(make([]byte, 1))
	require.NoError(t, err)
	_, err = conn.Write([]byte("a1 NOOP\r\n"))
	require.NoError(t, err)

	require.Len(t, rec.readDeadlines, 1)
	require.Len(t, rec.writeDeadlines, 1)
	assert.WithinDuration(t, time.Now().Add(30*time.Second), rec.readDeadlines[0], time.Second)
	assert.WithinDuration(t, time.Now().Add(30*time.Second), rec.writeDeadlines[0], time.Second)
}

func TestDeadlineConnClampsToRequestDeadline(t *testing.T) {
	rec := &recordConn{}
	absolute := time.Now().Add(2 * time.Second)
	conn := &deadlineConn{Conn: rec, timeout: 30 * time.Second, deadline: absolute}

	_, err := conn.Read(make([]byte, 1))
	require.NoError(t, err)

	require.Len(t, rec.readDeadlines, 1)
	assert.Equal(t, absolute, rec.readDeadlines[0])
}

func TestImapFolder(t *testing.T) {
	assert.Equal(t, "INBOX", imapFolder(FolderInbox))
	assert.Equal(t, "Junk", imapFolder(FolderJunk))
	assert.Equal(t, "INBOX", imapFolder("anything-else"))
}

func TestParseBodyMultipart(t *testing.T) {
	raw := []byte("From: sender@example.com\r\n" +
		"To: user@outlook.com\r\n" +
		"Subject: Code\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/alternative; boundary=BOUNDARY\r\n" +
		"\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Your code is 482913\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<b>Your code is 482913</b>\r\n" +
		"--BOUNDARY--\r\n")

	text, html := parseBody(raw)
	assert.Contains(t, text, "482913")
	assert.Contains(t, html, "<b>")
}

func TestParseBodyPlain(t *testing.T) {
	raw := []byte("From: sender@example.com\r\n" +
		"Subject: Hi\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"plain body\r\n")

	text, html := parseBody(raw)
	assert.Contains(t, text, "plain body")
	assert.Empty(t, html)
}

func TestParseBodyGarbage(t *testing.T) {
	text, html := parseBody([]byte("not an rfc822 message"))
	assert.Equal(t, "not an rfc822 message", text)
	assert.Empty(t, html)

	text, html = parseBody(nil)
	assert.Empty(t, text)
	assert.Empty(t, html)
}

func TestXOAuth2InitialResponse(t *testing.T) {
	client := newXOAuth2Client("user@outlook.com", "tok")
	mech, ir, err := client.Start()
	assert.NoError(t, err)
	assert.Equal(t, "XOAUTH2", mech)
	assert.Equal(t, "user=user@outlook.com\x01auth=Bearer tok\x01\x01", string(ir))
}
