package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"
)

const outlookIMAPAddr = "outlook.office365.com:993"

// imapIOTimeout bounds each read and write on the session. go-imap v2
// carries no timeouts of its own, so a stalled server would otherwise
// hang Authenticate, Select or Fetch forever.
const imapIOTimeout = 30 * time.Second

// deadlineConn arms a deadline before every read and write, clamped to
// the request deadline when one is set.
type deadlineConn struct {
	net.Conn
	timeout  time.Duration
	deadline time.Time
}

func (c *deadlineConn) opDeadline() time.Time {
	d := time.Now().Add(c.timeout)
	if !c.deadline.IsZero() && c.deadline.Before(d) {
		d = c.deadline
	}
	return d
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(c.opDeadline()); err != nil {
		return 0, err
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(c.opDeadline()); err != nil {
		return 0, err
	}
	return c.Conn.Write(b)
}

// IMAPClient reads mailboxes over IMAP with XOAUTH2, the fallback path
// for accounts whose grant lacks the Graph scope.
type IMAPClient struct {
	addr string
}

func NewIMAPClient() *IMAPClient {
	return &IMAPClient{addr: outlookIMAPAddr}
}

// imapFolder maps the public folder aliases onto Outlook's IMAP folder
// names. Outlook exposes the junk folder as "Junk" regardless of locale.
func imapFolder(folder string) string {
	if folder == FolderJunk {
		return "Junk"
	}
	return "INBOX"
}

// Fetch logs in, selects the folder read-only and returns the newest
// messages, most recent first. Sessions are single-shot: one connection
// per call, closed on every exit path.
func (c *IMAPClient) Fetch(ctx context.Context, account Account, token, folder string, limit int, proxyCfg ProxyConfig) ([]Message, error) {
	client, err := c.connect(ctx, proxyCfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := client.Logout().Wait(); err != nil {
			slog.Debug("imap_logout_failed", "address", account.Address, "error", err)
		}
		client.Close()
	}()

	if err := client.Authenticate(newXOAuth2Client(account.Address, token)); err != nil {
		return nil, fmt.Errorf("XOAUTH2 authentication failed: %w", err)
	}

	if _, err := client.Select(imapFolder(folder), &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		return nil, fmt.Errorf("failed to select folder %q: %w", imapFolder(folder), err)
	}

	searchData, err := client.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("UID search failed: %w", err)
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return []Message{}, nil
	}
	// Highest UIDs are the newest messages. A limit of zero or less
	// keeps the whole folder.
	if limit > 0 && len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	uidSet := imap.UIDSet{}
	for _, uid := range uids {
		uidSet.AddNum(uid)
	}
	fetchOptions := &imap.FetchOptions{
		Envelope: true,
		UID:      true,
		BodySection: []*imap.FetchItemBodySection{
			{Peek: true},
		},
	}

	fetchCmd := client.Fetch(uidSet, fetchOptions)
	now := time.Now().UnixMilli()
	var messages []Message
	seq := 0

	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		seq++

		var envelope *imap.Envelope
		var raw []byte
		for {
			item := msg.Next()
			if item == nil {
				break
			}
			switch data := item.(type) {
			case imapclient.FetchItemDataEnvelope:
				envelope = data.Envelope
			case imapclient.FetchItemDataBodySection:
				if data.Literal != nil {
					raw, err = io.ReadAll(data.Literal)
					if err != nil {
						slog.Warn("imap_body_read_failed", "address", account.Address, "error", err)
					}
				}
			}
		}

		m := Message{ID: fmt.Sprintf("imap_%d_%d", now, seq)}
		if envelope != nil {
			m.Subject = envelope.Subject
			if len(envelope.From) > 0 {
				m.From = envelope.From[0].Addr()
			}
			if !envelope.Date.IsZero() {
				date := envelope.Date
				m.Date = &date
			}
		}
		m.Text, m.HTML = parseBody(raw)
		messages = append(messages, m)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}

	sort.SliceStable(messages, func(i, j int) bool {
		di, dj := messages[i].Date, messages[j].Date
		switch {
		case di == nil:
			return false
		case dj == nil:
			return true
		default:
			return di.After(*dj)
		}
	})
	return messages, nil
}

func (c *IMAPClient) connect(ctx context.Context, proxyCfg ProxyConfig) (*imapclient.Client, error) {
	dialer, err := proxyCfg.Dialer()
	if err != nil {
		return nil, err
	}
	rawConn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	host, _, _ := net.SplitHostPort(c.addr)
	tlsConn := tls.Client(rawConn, &tls.Config{ServerName: host})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("TLS handshake failed: %w", err)
	}

	conn := &deadlineConn{Conn: tlsConn, timeout: imapIOTimeout}
	if d, ok := ctx.Deadline(); ok {
		conn.deadline = d
	}

	client := imapclient.New(conn, &imapclient.Options{})
	if err := client.WaitGreeting(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to receive greeting: %w", err)
	}
	return client, nil
}

// parseBody extracts the inline text and html parts of a raw RFC 822
// message. Unparseable payloads fall back to the raw bytes as text.
func parseBody(raw []byte) (text, html string) {
	if len(raw) == 0 {
		return "", ""
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return strings.TrimSpace(string(raw)), ""
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, err := header.ContentType()
		if err != nil {
			continue
		}
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch contentType {
		case "text/plain":
			if text == "" {
				text = string(body)
			}
		case "text/html":
			if html == "" {
				html = string(body)
			}
		}
	}
	return text, html
}
