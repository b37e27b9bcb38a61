package mail

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailpool/mailpool/internal/apperr"
	"github.com/mailpool/mailpool/internal/storage"
)

type fakeBroker struct {
	graphToken  string
	hasMailRead bool
	imapToken   string
}

func (f *fakeBroker) GraphToken(context.Context, Account, ProxyConfig) (string, bool, error) {
	return f.graphToken, f.hasMailRead, nil
}

func (f *fakeBroker) IMAPToken(context.Context, Account, ProxyConfig) (string, error) {
	return f.imapToken, nil
}

type fakeGraph struct {
	messages []Message
	cleared  int64
	err      error
	calls    int
}

func (f *fakeGraph) List(context.Context, string, string, int, ProxyConfig) ([]Message, error) {
	f.calls++
	return f.messages, f.err
}

func (f *fakeGraph) Clear(context.Context, string, string, ProxyConfig) (int64, error) {
	f.calls++
	return f.cleared, f.err
}

type fakeIMAP struct {
	messages []Message
	err      error
	calls    int
}

func (f *fakeIMAP) Fetch(context.Context, Account, string, string, int, ProxyConfig) ([]Message, error) {
	f.calls++
	return f.messages, f.err
}

type fakeRecorder struct {
	status    string
	lastError *string
}

func (f *fakeRecorder) SetEmailAccountCheckResult(_ context.Context, _ int64, status string, lastError *string) error {
	f.status = status
	f.lastError = lastError
	return nil
}

func TestOrchestratorGraphFirstSuccess(t *testing.T) {
	graph := &fakeGraph{messages: []Message{{ID: "m1"}}}
	imap := &fakeIMAP{}
	rec := &fakeRecorder{}
	o := NewOrchestrator(&fakeBroker{graphToken: "tok", hasMailRead: true}, graph, imap, rec)

	res, err := o.Fetch(context.Background(), testAccount(), FolderInbox, 5, storage.StrategyGraphFirst, ProxyConfig{})
	require.NoError(t, err)
	assert.Equal(t, MethodGraph, res.Method)
	assert.Len(t, res.Messages, 1)
	assert.Zero(t, imap.calls)
	assert.Equal(t, storage.StatusActive, rec.status)
	assert.Nil(t, rec.lastError)
}

func TestOrchestratorFallsBackWithoutMailRead(t *testing.T) {
	graph := &fakeGraph{}
	imap := &fakeIMAP{messages: []Message{{ID: "i1"}, {ID: "i2"}}}
	rec := &fakeRecorder{}
	o := NewOrchestrator(&fakeBroker{graphToken: "tok", hasMailRead: false, imapToken: "imap-tok"}, graph, imap, rec)

	res, err := o.Fetch(context.Background(), testAccount(), FolderInbox, 5, storage.StrategyGraphFirst, ProxyConfig{})
	require.NoError(t, err)
	assert.Equal(t, MethodImap, res.Method)
	assert.Len(t, res.Messages, 2)
	assert.Zero(t, graph.calls)
	assert.Equal(t, storage.StatusActive, rec.status)
}

func TestOrchestratorFallsBackOnGraphError(t *testing.T) {
	graph := &fakeGraph{err: errors.New("graph down")}
	imap := &fakeIMAP{messages: []Message{{ID: "i1"}}}
	rec := &fakeRecorder{}
	o := NewOrchestrator(&fakeBroker{graphToken: "tok", hasMailRead: true, imapToken: "imap-tok"}, graph, imap, rec)

	res, err := o.Fetch(context.Background(), testAccount(), FolderInbox, 5, storage.StrategyGraphFirst, ProxyConfig{})
	require.NoError(t, err)
	assert.Equal(t, MethodImap, res.Method)
	assert.Equal(t, 1, graph.calls)
}

func TestOrchestratorImapTokenFailed(t *testing.T) {
	rec := &fakeRecorder{}
	o := NewOrchestrator(&fakeBroker{}, &fakeGraph{}, &fakeIMAP{}, rec)

	_, err := o.Fetch(context.Background(), testAccount(), FolderInbox, 5, storage.StrategyImapOnly, ProxyConfig{})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrImapTokenFailed)
	assert.Equal(t, storage.StatusError, rec.status)
	require.NotNil(t, rec.lastError)
}

func TestOrchestratorGraphOnlyNoFallback(t *testing.T) {
	graph := &fakeGraph{err: errors.New("graph down")}
	imap := &fakeIMAP{messages: []Message{{ID: "i1"}}}
	rec := &fakeRecorder{}
	o := NewOrchestrator(&fakeBroker{graphToken: "tok", hasMailRead: true, imapToken: "imap-tok"}, graph, imap, rec)

	_, err := o.Fetch(context.Background(), testAccount(), FolderInbox, 5, storage.StrategyGraphOnly, ProxyConfig{})
	require.Error(t, err)
	assert.Zero(t, imap.calls)
	assert.Equal(t, storage.StatusError, rec.status)
}

func TestOrchestratorImapFirst(t *testing.T) {
	graph := &fakeGraph{messages: []Message{{ID: "g1"}}}
	imap := &fakeIMAP{err: errors.New("imap down")}
	rec := &fakeRecorder{}
	o := NewOrchestrator(&fakeBroker{graphToken: "tok", hasMailRead: true, imapToken: "imap-tok"}, graph, imap, rec)

	res, err := o.Fetch(context.Background(), testAccount(), FolderInbox, 5, storage.StrategyImapFirst, ProxyConfig{})
	require.NoError(t, err)
	assert.Equal(t, MethodGraph, res.Method)
	assert.Equal(t, 1, imap.calls)
}

func TestOrchestratorClear(t *testing.T) {
	graph := &fakeGraph{cleared: 42}
	rec := &fakeRecorder{}
	o := NewOrchestrator(&fakeBroker{graphToken: "tok", hasMailRead: true}, graph, &fakeIMAP{}, rec)

	res := o.Clear(context.Background(), testAccount(), FolderInbox, ProxyConfig{})
	assert.Equal(t, int64(42), res.DeletedCount)
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, storage.StatusActive, rec.status)
}

func TestOrchestratorClearWithoutGraphScope(t *testing.T) {
	rec := &fakeRecorder{}
	o := NewOrchestrator(&fakeBroker{graphToken: "tok", hasMailRead: false}, &fakeGraph{}, &fakeIMAP{}, rec)

	res := o.Clear(context.Background(), testAccount(), FolderInbox, ProxyConfig{})
	assert.Equal(t, "error", res.Status)
	assert.Zero(t, res.DeletedCount)
	assert.Equal(t, storage.StatusError, rec.status)
}
