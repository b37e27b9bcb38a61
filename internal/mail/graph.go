package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

// GraphClient reads mailboxes over the Microsoft Graph REST API using a
// bearer token issued by the broker.
type GraphClient struct {
	baseURL string
}

func NewGraphClient() *GraphClient {
	return &GraphClient{baseURL: graphBaseURL}
}

// graphFolder maps the public folder aliases onto Graph's well-known
// folder names.
func graphFolder(folder string) string {
	if folder == FolderJunk {
		return "junkemail"
	}
	return "inbox"
}

type graphMessage struct {
	ID   string `json:"id"`
	From struct {
		EmailAddress struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
	Subject     string `json:"subject"`
	BodyPreview string `json:"bodyPreview"`
	Body        struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	ReceivedDateTime string `json:"receivedDateTime"`
}

type graphListResponse struct {
	Value    []graphMessage `json:"value"`
	NextLink string         `json:"@odata.nextLink"`
}

// List returns the newest messages in the folder, most recent first.
// A limit of zero or less returns the whole folder, following
// @odata.nextLink up to listMaxPages so a pathological mailbox cannot
// stall the request or exhaust memory.
func (g *GraphClient) List(ctx context.Context, token, folder string, limit int, proxyCfg ProxyConfig) ([]Message, error) {
	const (
		listPageSize = 100
		listMaxPages = 50
	)
	top := listPageSize
	if limit > 0 && limit < listPageSize {
		top = limit
	}
	endpoint := fmt.Sprintf("%s/me/mailFolders/%s/messages?%s", g.baseURL, graphFolder(folder), url.Values{
		"$top":     {strconv.Itoa(top)},
		"$orderby": {"receivedDateTime desc"},
	}.Encode())

	var all []graphMessage
	for page := 0; page < listMaxPages && endpoint != ""; page++ {
		var resp graphListResponse
		if err := g.get(ctx, token, endpoint, proxyCfg, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Value...)
		if limit > 0 && len(all) >= limit {
			all = all[:limit]
			break
		}
		endpoint = resp.NextLink
	}
	return convertGraphMessages(all), nil
}

// ListIDs pages through the folder collecting message ids for bulk
// deletion. Paging is capped so a runaway mailbox cannot stall a clear.
func (g *GraphClient) ListIDs(ctx context.Context, token, folder string, proxyCfg ProxyConfig) ([]string, error) {
	const (
		pageSize = 500
		maxPages = 10
	)
	endpoint := fmt.Sprintf("%s/me/mailFolders/%s/messages?%s", g.baseURL, graphFolder(folder), url.Values{
		"$top":    {strconv.Itoa(pageSize)},
		"$select": {"id"},
	}.Encode())

	var ids []string
	for page := 0; page < maxPages && endpoint != ""; page++ {
		var resp graphListResponse
		if err := g.get(ctx, token, endpoint, proxyCfg, &resp); err != nil {
			return nil, err
		}
		for _, m := range resp.Value {
			ids = append(ids, m.ID)
		}
		endpoint = resp.NextLink
	}
	return ids, nil
}

// Delete removes one message. Failures are reported, not fatal; bulk
// deletion counts successes and moves on.
func (g *GraphClient) Delete(ctx context.Context, token, messageID string, proxyCfg ProxyConfig) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, g.baseURL+"/me/messages/"+url.PathEscape(messageID), nil)
	if err != nil {
		return fmt.Errorf("failed to build graph request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	client, err := proxyCfg.HTTPClient()
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("graph delete failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("graph delete returned %d", resp.StatusCode)
	}
	return nil
}

func (g *GraphClient) get(ctx context.Context, token, endpoint string, proxyCfg ProxyConfig, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build graph request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	client, err := proxyCfg.HTTPClient()
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("graph request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("failed to read graph response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("graph returned %d: %s", resp.StatusCode, truncate(string(body), 300))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode graph response: %w", err)
	}
	return nil
}

func convertGraphMessages(in []graphMessage) []Message {
	out := make([]Message, 0, len(in))
	for _, m := range in {
		msg := Message{
			ID:      m.ID,
			From:    m.From.EmailAddress.Address,
			Subject: m.Subject,
			Text:    m.BodyPreview,
		}
		switch m.Body.ContentType {
		case "html":
			msg.HTML = m.Body.Content
		default:
			if m.Body.Content != "" {
				msg.Text = m.Body.Content
			}
		}
		if m.ReceivedDateTime != "" {
			if ts, err := time.Parse(time.RFC3339, m.ReceivedDateTime); err == nil {
				msg.Date = &ts
			} else {
				slog.Debug("graph_date_parse_failed", "value", m.ReceivedDateTime)
			}
		}
		out = append(out, msg)
	}
	return out
}
