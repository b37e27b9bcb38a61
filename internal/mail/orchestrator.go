package mail

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mailpool/mailpool/internal/apperr"
	"github.com/mailpool/mailpool/internal/storage"
)

// FetchResult is what a successful fetch hands back to the API layer.
type FetchResult struct {
	Messages []Message
	Method   string
}

// ClearResult reports the outcome of a folder clear.
type ClearResult struct {
	DeletedCount int64  `json:"deleted_count"`
	Status       string `json:"status"`
}

// checkRecorder is the slice of the store the orchestrator needs to write
// mailbox health after each attempt.
type checkRecorder interface {
	SetEmailAccountCheckResult(ctx context.Context, id int64, status string, lastError *string) error
}

type tokenSource interface {
	GraphToken(ctx context.Context, account Account, proxyCfg ProxyConfig) (token string, hasMailRead bool, err error)
	IMAPToken(ctx context.Context, account Account, proxyCfg ProxyConfig) (string, error)
}

type graphReader interface {
	List(ctx context.Context, token, folder string, limit int, proxyCfg ProxyConfig) ([]Message, error)
	Clear(ctx context.Context, token, folder string, proxyCfg ProxyConfig) (int64, error)
}

type imapReader interface {
	Fetch(ctx context.Context, account Account, token, folder string, limit int, proxyCfg ProxyConfig) ([]Message, error)
}

// Orchestrator picks a transport per the group's fetch strategy, degrades
// between Graph and IMAP, and records mailbox health after every fetch.
type Orchestrator struct {
	broker tokenSource
	graph  graphReader
	imap   imapReader
	store  checkRecorder
}

func NewOrchestrator(broker tokenSource, graph graphReader, imap imapReader, store checkRecorder) *Orchestrator {
	return &Orchestrator{broker: broker, graph: graph, imap: imap, store: store}
}

// Fetch returns the newest messages in the folder. strategy is one of the
// storage.Strategy* values; anything unknown behaves as graph-first.
func (o *Orchestrator) Fetch(ctx context.Context, account Account, folder string, limit int, strategy string, proxyCfg ProxyConfig) (*FetchResult, error) {
	result, err := o.fetch(ctx, account, folder, limit, strategy, proxyCfg)
	if err != nil {
		o.recordCheck(ctx, account, storage.StatusError, err)
		return nil, err
	}
	o.recordCheck(ctx, account, storage.StatusActive, nil)
	return result, nil
}

func (o *Orchestrator) fetch(ctx context.Context, account Account, folder string, limit int, strategy string, proxyCfg ProxyConfig) (*FetchResult, error) {
	switch strategy {
	case storage.StrategyGraphOnly:
		return o.fetchGraph(ctx, account, folder, limit, proxyCfg)
	case storage.StrategyImapOnly:
		return o.fetchIMAP(ctx, account, folder, limit, proxyCfg)
	case storage.StrategyImapFirst:
		result, err := o.fetchIMAP(ctx, account, folder, limit, proxyCfg)
		if err == nil {
			return result, nil
		}
		slog.Warn("imap_fetch_failed_falling_back", "address", account.Address, "error", err)
		return o.fetchGraph(ctx, account, folder, limit, proxyCfg)
	default:
		result, err := o.fetchGraph(ctx, account, folder, limit, proxyCfg)
		if err == nil {
			return result, nil
		}
		slog.Warn("graph_fetch_failed_falling_back", "address", account.Address, "error", err)
		return o.fetchIMAP(ctx, account, folder, limit, proxyCfg)
	}
}

func (o *Orchestrator) fetchGraph(ctx context.Context, account Account, folder string, limit int, proxyCfg ProxyConfig) (*FetchResult, error) {
	token, hasMailRead, err := o.broker.GraphToken(ctx, account, proxyCfg)
	if err != nil {
		return nil, err
	}
	if token == "" || !hasMailRead {
		return nil, fmt.Errorf("no Graph token with Mail.Read scope for %s", account.Address)
	}
	messages, err := o.graph.List(ctx, token, folder, limit, proxyCfg)
	if err != nil {
		return nil, err
	}
	return &FetchResult{Messages: messages, Method: MethodGraph}, nil
}

func (o *Orchestrator) fetchIMAP(ctx context.Context, account Account, folder string, limit int, proxyCfg ProxyConfig) (*FetchResult, error) {
	token, err := o.broker.IMAPToken(ctx, account, proxyCfg)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, apperr.ErrImapTokenFailed
	}
	messages, err := o.imap.Fetch(ctx, account, token, folder, limit, proxyCfg)
	if err != nil {
		return nil, err
	}
	return &FetchResult{Messages: messages, Method: MethodImap}, nil
}

// Clear empties the folder through Graph. Clearing has no IMAP fallback;
// without a Mail.Read grant the clear reports error status.
func (o *Orchestrator) Clear(ctx context.Context, account Account, folder string, proxyCfg ProxyConfig) *ClearResult {
	token, hasMailRead, err := o.broker.GraphToken(ctx, account, proxyCfg)
	if err == nil && (token == "" || !hasMailRead) {
		err = fmt.Errorf("no Graph token with Mail.Read scope for %s", account.Address)
	}
	if err != nil {
		slog.Warn("mailbox_clear_failed", "address", account.Address, "error", err)
		o.recordCheck(ctx, account, storage.StatusError, err)
		return &ClearResult{Status: "error"}
	}

	deleted, err := o.graph.Clear(ctx, token, folder, proxyCfg)
	if err != nil {
		slog.Warn("mailbox_clear_failed", "address", account.Address, "error", err)
		o.recordCheck(ctx, account, storage.StatusError, err)
		return &ClearResult{DeletedCount: deleted, Status: "error"}
	}
	o.recordCheck(ctx, account, storage.StatusActive, nil)
	return &ClearResult{DeletedCount: deleted, Status: "success"}
}

func (o *Orchestrator) recordCheck(ctx context.Context, account Account, status string, cause error) {
	var lastError *string
	if cause != nil {
		msg := cause.Error()
		lastError = &msg
	}
	if err := o.store.SetEmailAccountCheckResult(ctx, account.ID, status, lastError); err != nil {
		slog.Warn("check_result_write_failed", "address", account.Address, "error", err)
	}
}
