package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/mailpool/mailpool/internal/api/helpers"
	"github.com/mailpool/mailpool/internal/api/middleware"
	"github.com/mailpool/mailpool/internal/apilog"
	"github.com/mailpool/mailpool/internal/apperr"
	"github.com/mailpool/mailpool/internal/crypto"
	"github.com/mailpool/mailpool/internal/mail"
	"github.com/mailpool/mailpool/internal/perm"
	"github.com/mailpool/mailpool/internal/pool"
	"github.com/mailpool/mailpool/internal/scope"
	"github.com/mailpool/mailpool/internal/storage"
)

// allocateAttempts bounds the allocate+mark retry loop that resolves
// races between concurrent callers targeting the same mailbox.
const allocateAttempts = 3

// PoolService is the allocator surface the external routes need.
type PoolService interface {
	Allocate(ctx context.Context, key *storage.APIKey, groupName string) (*storage.EmailAccount, error)
	MarkUsed(ctx context.Context, apiKeyID, emailAccountID int64) error
	Reset(ctx context.Context, key *storage.APIKey, groupName string) (int64, error)
	PoolStats(ctx context.Context, key *storage.APIKey, groupName string) (pool.Stats, error)
}

// MailService is the fetching engine surface the external routes need.
type MailService interface {
	Fetch(ctx context.Context, account mail.Account, folder string, limit int, strategy string, proxyCfg mail.ProxyConfig) (*mail.FetchResult, error)
	Clear(ctx context.Context, account mail.Account, folder string, proxyCfg mail.ProxyConfig) *mail.ClearResult
}

// MailboxDirectory resolves addresses, groups, and listings.
type MailboxDirectory interface {
	GetEmailAccountByAddress(ctx context.Context, address string) (*storage.EmailAccount, error)
	ListEmailAccounts(ctx context.Context, clauses []string, args []any) ([]*storage.EmailAccount, error)
	GetGroupByID(ctx context.Context, id int64) (*storage.EmailGroup, error)
	GetGroupByName(ctx context.Context, name string) (*storage.EmailGroup, error)
	ListGroups(ctx context.Context) ([]*storage.EmailGroup, error)
}

// CallRecorder terminates every external request with an audit insert.
type CallRecorder interface {
	Record(ctx context.Context, e apilog.Entry)
}

// ExternalHandler serves the key-authenticated /api routes.
type ExternalHandler struct {
	pool     PoolService
	dir      MailboxDirectory
	engine   MailService
	box      *crypto.SecretBox
	recorder CallRecorder
}

func NewExternalHandler(poolSvc PoolService, dir MailboxDirectory, engine MailService, box *crypto.SecretBox, recorder CallRecorder) *ExternalHandler {
	return &ExternalHandler{pool: poolSvc, dir: dir, engine: engine, box: box, recorder: recorder}
}

// result carries what an endpoint produced; mailboxID feeds the audit row.
type result struct {
	data      any
	mailboxID *int64
}

type endpointFunc func(r *http.Request, key *storage.APIKey, params url.Values) (*result, error)

// endpoint wraps an external route with permission checking, the JSON
// envelope, and the terminal audit insert.
func (h *ExternalHandler) endpoint(action string, fn endpointFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		key := middleware.APIKeyFrom(r)

		res, err := h.run(w, r, key, action, fn)
		status := http.StatusOK
		if err != nil {
			status = apperr.From(err).Status
			helpers.RespondError(w, r, err)
		} else {
			helpers.RespondData(w, r, http.StatusOK, res.data)
		}

		h.record(r, key, action, status, start, res)
	}
}

func (h *ExternalHandler) run(w http.ResponseWriter, r *http.Request, key *storage.APIKey, action string, fn endpointFunc) (*result, error) {
	if !perm.Allowed(key.Permissions, action) {
		return nil, apperr.ErrForbidden
	}
	params, err := helpers.Params(w, r)
	if err != nil {
		return nil, err
	}
	return fn(r, key, params)
}

func (h *ExternalHandler) record(r *http.Request, key *storage.APIKey, action string, status int, start time.Time, res *result) {
	entry := apilog.Entry{
		Action:     action,
		ClientIP:   helpers.ClientIP(r),
		HTTPStatus: status,
		Elapsed:    time.Since(start),
		RequestID:  helpers.RequestID(r),
	}
	if key != nil {
		entry.APIKeyID = &key.ID
	}
	if res != nil {
		entry.EmailAccountID = res.mailboxID
	}
	// The audit insert must survive request cancellation.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
	defer cancel()
	h.recorder.Record(ctx, entry)
}

// GetEmail allocates a fresh mailbox for the credential.
func (h *ExternalHandler) GetEmail(w http.ResponseWriter, r *http.Request) {
	h.endpoint("get_email", func(r *http.Request, key *storage.APIKey, params url.Values) (*result, error) {
		group := params.Get("group")
		for attempt := 0; attempt < allocateAttempts; attempt++ {
			acct, err := h.pool.Allocate(r.Context(), key, group)
			if err != nil {
				return nil, err
			}
			err = h.pool.MarkUsed(r.Context(), key.ID, acct.ID)
			if errors.Is(err, apperr.ErrAlreadyUsed) {
				continue
			}
			if err != nil {
				return nil, err
			}
			return &result{
				data:      map[string]any{"email": acct.Address, "id": acct.ID},
				mailboxID: &acct.ID,
			}, nil
		}
		return nil, apperr.ErrConcurrencyLimit
	})(w, r)
}

// MailNew returns the newest message in the folder.
func (h *ExternalHandler) MailNew(w http.ResponseWriter, r *http.Request) {
	h.endpoint("mail_new", h.fetchEndpoint(1))(w, r)
}

// MailAll returns every message in the folder, newest first. A limit of
// zero asks the engine for the whole folder.
func (h *ExternalHandler) MailAll(w http.ResponseWriter, r *http.Request) {
	h.endpoint("mail_all", h.fetchEndpoint(0))(w, r)
}

// fetchEndpoint builds the shared fetch flow. limit caps the number of
// messages returned; zero means no cap.
func (h *ExternalHandler) fetchEndpoint(limit int) endpointFunc {
	return func(r *http.Request, key *storage.APIKey, params url.Values) (*result, error) {
		address, err := helpers.RequireParam(params, "email")
		if err != nil {
			return nil, err
		}
		folder := folderParam(params)

		acct, account, strategy, err := h.resolveMailbox(r.Context(), key, address)
		if err != nil {
			return nil, err
		}

		fetched, err := h.engine.Fetch(r.Context(), account, folder, limit, strategy, proxyParam(params))
		if err != nil {
			return nil, err
		}
		return &result{
			data: map[string]any{
				"email":    acct.Address,
				"mailbox":  folder,
				"count":    len(fetched.Messages),
				"messages": fetched.Messages,
				"method":   fetched.Method,
			},
			mailboxID: &acct.ID,
		}, nil
	}
}

// MailText fetches the newest inbox message and responds text/plain: the
// regex match (or first capture group) when `match` is given, the full
// text body otherwise.
func (h *ExternalHandler) MailText(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	key := middleware.APIKeyFrom(r)

	body, mailboxID, err := h.mailText(w, r, key)
	status := http.StatusOK
	if err != nil {
		status = apperr.From(err).Status
		helpers.RespondText(w, status, "Error: "+apperr.From(err).Message)
	} else {
		helpers.RespondText(w, http.StatusOK, body)
	}

	h.record(r, key, "mail_text", status, start, &result{mailboxID: mailboxID})
}

func (h *ExternalHandler) mailText(w http.ResponseWriter, r *http.Request, key *storage.APIKey) (string, *int64, error) {
	if !perm.Allowed(key.Permissions, "mail_text") {
		return "", nil, apperr.ErrForbidden
	}
	params, err := helpers.Params(w, r)
	if err != nil {
		return "", nil, err
	}
	address, err := helpers.RequireParam(params, "email")
	if err != nil {
		return "", nil, err
	}

	acct, account, strategy, err := h.resolveMailbox(r.Context(), key, address)
	if err != nil {
		return "", nil, err
	}
	fetched, err := h.engine.Fetch(r.Context(), account, mail.FolderInbox, 1, strategy, proxyParam(params))
	if err != nil {
		return "", &acct.ID, err
	}
	if len(fetched.Messages) == 0 {
		return "", &acct.ID, nil
	}

	text := fetched.Messages[0].Text
	pattern := params.Get("match")
	if pattern == "" {
		return text, &acct.ID, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", &acct.ID, apperr.Validation("invalid match pattern", err.Error())
	}
	m := re.FindStringSubmatch(text)
	switch {
	case m == nil:
		return "", &acct.ID, nil
	case len(m) > 1:
		return m[1], &acct.ID, nil
	default:
		return m[0], &acct.ID, nil
	}
}

// ProcessMailbox clears a folder.
func (h *ExternalHandler) ProcessMailbox(w http.ResponseWriter, r *http.Request) {
	h.endpoint("process_mailbox", func(r *http.Request, key *storage.APIKey, params url.Values) (*result, error) {
		address, err := helpers.RequireParam(params, "email")
		if err != nil {
			return nil, err
		}
		folder := folderParam(params)

		acct, account, _, err := h.resolveMailbox(r.Context(), key, address)
		if err != nil {
			return nil, err
		}
		cleared := h.engine.Clear(r.Context(), account, folder, proxyParam(params))
		return &result{
			data: map[string]any{
				"email":        acct.Address,
				"mailbox":      folder,
				"status":       cleared.Status,
				"deletedCount": cleared.DeletedCount,
			},
			mailboxID: &acct.ID,
		}, nil
	})(w, r)
}

// ListEmails lists the mailboxes visible to the credential.
func (h *ExternalHandler) ListEmails(w http.ResponseWriter, r *http.Request) {
	h.endpoint("list_emails", func(r *http.Request, key *storage.APIKey, params url.Values) (*result, error) {
		filter := scope.FromAPIKey(key)

		var requestedGroup *int64
		if name := params.Get("group"); name != "" {
			group, err := h.dir.GetGroupByName(r.Context(), name)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return nil, apperr.ErrGroupNotFound
				}
				return nil, err
			}
			if err := filter.CheckGroup(group.ID); err != nil {
				return nil, err
			}
			requestedGroup = &group.ID
		}

		clauses, args := filter.Clauses("", requestedGroup, 0)
		accounts, err := h.dir.ListEmailAccounts(r.Context(), clauses, args)
		if err != nil {
			return nil, err
		}

		groupNames, err := h.groupNames(r.Context())
		if err != nil {
			return nil, err
		}

		emails := make([]map[string]any, 0, len(accounts))
		for _, acct := range accounts {
			groupName := ""
			if acct.GroupID != nil {
				groupName = groupNames[*acct.GroupID]
			}
			emails = append(emails, map[string]any{
				"email":  acct.Address,
				"status": acct.Status,
				"group":  groupName,
			})
		}
		return &result{data: map[string]any{"total": len(emails), "emails": emails}}, nil
	})(w, r)
}

// PoolStats reports the credential's pool usage.
func (h *ExternalHandler) PoolStats(w http.ResponseWriter, r *http.Request) {
	h.endpoint("pool_stats", func(r *http.Request, key *storage.APIKey, params url.Values) (*result, error) {
		stats, err := h.pool.PoolStats(r.Context(), key, params.Get("group"))
		if err != nil {
			return nil, err
		}
		return &result{data: map[string]any{
			"total":     stats.Total,
			"used":      stats.Used,
			"remaining": stats.Remaining,
		}}, nil
	})(w, r)
}

// ResetPool releases the credential's assignments.
func (h *ExternalHandler) ResetPool(w http.ResponseWriter, r *http.Request) {
	h.endpoint("pool_reset", func(r *http.Request, key *storage.APIKey, params url.Values) (*result, error) {
		removed, err := h.pool.Reset(r.Context(), key, params.Get("group"))
		if err != nil {
			return nil, err
		}
		return &result{data: map[string]any{
			"message": fmt.Sprintf("pool reset, %d assignments removed", removed),
		}}, nil
	})(w, r)
}

// resolveMailbox looks up a named address, enforces scope, decrypts the
// refresh token, and resolves the group's fetch strategy.
func (h *ExternalHandler) resolveMailbox(ctx context.Context, key *storage.APIKey, address string) (*storage.EmailAccount, mail.Account, string, error) {
	acct, err := h.dir.GetEmailAccountByAddress(ctx, address)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, mail.Account{}, "", apperr.ErrEmailNotFound
		}
		return nil, mail.Account{}, "", err
	}

	if err := scope.FromAPIKey(key).CheckMailbox(acct); err != nil {
		return nil, mail.Account{}, "", err
	}

	refreshToken, err := h.box.Decrypt(acct.RefreshTokenCipher)
	if err != nil {
		return nil, mail.Account{}, "", err
	}

	strategy := storage.StrategyGraphFirst
	if acct.GroupID != nil {
		group, err := h.dir.GetGroupByID(ctx, *acct.GroupID)
		if err == nil && group.FetchStrategy != "" {
			strategy = group.FetchStrategy
		}
	}

	return acct, mail.Account{
		ID:           acct.ID,
		Address:      acct.Address,
		ClientID:     acct.ClientID,
		RefreshToken: refreshToken,
	}, strategy, nil
}

func (h *ExternalHandler) groupNames(ctx context.Context) (map[int64]string, error) {
	groups, err := h.dir.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(groups))
	for _, g := range groups {
		names[g.ID] = g.Name
	}
	return names, nil
}

func folderParam(params url.Values) string {
	if params.Get("mailbox") == mail.FolderJunk {
		return mail.FolderJunk
	}
	return mail.FolderInbox
}

func proxyParam(params url.Values) mail.ProxyConfig {
	return mail.ProxyConfig{
		SOCKS5: params.Get("socks5"),
		HTTP:   params.Get("http"),
	}
}
