package mail

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphClientList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/mailFolders/junkemail/messages", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("$top"))
		assert.Equal(t, "receivedDateTime desc", r.URL.Query().Get("$orderby"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"value":[
			{"id":"m1","from":{"emailAddress":{"address":"a@b.com"}},"subject":"Hello",
			 "bodyPreview":"preview text","body":{"contentType":"html","content":"<p>hi</p>"},
			 "receivedDateTime":"2026-08-01T10:00:00Z"},
			{"id":"m2","from":{"emailAddress":{"address":"c@d.com"}},"subject":"Plain",
			 "body":{"contentType":"text","content":"just text"}}
		]}`)
	}))
	defer srv.Close()

	g := NewGraphClient()
	g.baseURL = srv.URL

	msgs, err := g.List(context.Background(), "tok", FolderJunk, 5, ProxyConfig{})
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "a@b.com", msgs[0].From)
	assert.Equal(t, "<p>hi</p>", msgs[0].HTML)
	assert.Equal(t, "preview text", msgs[0].Text)
	require.NotNil(t, msgs[0].Date)

	assert.Equal(t, "just text", msgs[1].Text)
	assert.Empty(t, msgs[1].HTML)
	assert.Nil(t, msgs[1].Date)
}

func TestGraphClientListUnboundedFollowsPaging(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `{"value":[{"id":"m3","subject":"third"}]}`)
			return
		}
		assert.Equal(t, "100", r.URL.Query().Get("$top"))
		fmt.Fprintf(w, `{"value":[{"id":"m1"},{"id":"m2"}],"@odata.nextLink":"%s/me/mailFolders/inbox/messages?page=2"}`, srv.URL)
	}))
	defer srv.Close()

	g := NewGraphClient()
	g.baseURL = srv.URL

	msgs, err := g.List(context.Background(), "tok", FolderInbox, 0, ProxyConfig{})
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m3", msgs[2].ID)
}

func TestGraphClientListStopsAtLimit(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `{"value":[{"id":"m3"},{"id":"m4"}],"@odata.nextLink":"never-followed"}`)
			return
		}
		fmt.Fprintf(w, `{"value":[{"id":"m1"},{"id":"m2"}],"@odata.nextLink":"%s/me/mailFolders/inbox/messages?page=2"}`, srv.URL)
	}))
	defer srv.Close()

	g := NewGraphClient()
	g.baseURL = srv.URL

	msgs, err := g.List(context.Background(), "tok", FolderInbox, 3, ProxyConfig{})
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m3", msgs[2].ID)
}

func TestGraphClientListIDsFollowsPaging(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `{"value":[{"id":"m3"}]}`)
			return
		}
		fmt.Fprintf(w, `{"value":[{"id":"m1"},{"id":"m2"}],"@odata.nextLink":"%s/me/mailFolders/inbox/messages?page=2"}`, srv.URL)
	}))
	defer srv.Close()

	g := NewGraphClient()
	g.baseURL = srv.URL

	ids, err := g.ListIDs(context.Background(), "tok", FolderInbox, ProxyConfig{})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids)
}

func TestGraphClientDelete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/me/messages/m1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	g := NewGraphClient()
	g.baseURL = srv.URL
	require.NoError(t, g.Delete(context.Background(), "tok", "m1", ProxyConfig{}))
}

func TestGraphClientListErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"code":"InvalidAuthenticationToken"}}`)
	}))
	defer srv.Close()

	g := NewGraphClient()
	g.baseURL = srv.URL

	_, err := g.List(context.Background(), "bad", FolderInbox, 3, ProxyConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
