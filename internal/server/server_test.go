package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/msgbridge/pkg/client"
	"github.com/txn2/msgbridge/pkg/credential"
	"github.com/txn2/msgbridge/pkg/health"
	"github.com/txn2/msgbridge/pkg/manager"
	"github.com/txn2/msgbridge/pkg/session"
	"github.com/txn2/msgbridge/pkg/sink"
)

// stubClient satisfies client.Client without ever connecting.
type stubClient struct {
	events chan client.Event
}

func (c *stubClient) Open(context.Context, *credential.Handle) error { return nil }
func (c *stubClient) Events() <-chan client.Event                    { return c.events }
func (c *stubClient) Close() error                                   { close(c.events); return nil }
func (c *stubClient) Send(context.Context, client.Outbound) (*client.SendResult, error) {
	return &client.SendResult{MessageID: "msg-1", Timestamp: time.Now()}, nil
}

type stubFactory struct{}

func (stubFactory) New(string, client.Options) client.Client {
	return &stubClient{events: make(chan client.Event, 1)}
}

func newTestServer(t *testing.T) (*Server, *manager.Manager) {
	t.Helper()

	creds := credential.NewStoreWithFs(afero.NewMemMapFs(), "/creds")
	m := manager.New(manager.Config{}, creds, stubFactory{}, session.NewRegistry(), sink.NewMemory())
	t.Cleanup(func() { _ = m.Close() })

	checker := health.NewChecker()
	checker.SetSessionCounter(m.Registry().Len)
	checker.SetReady()

	return New(m, checker), m
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_ListSessions(t *testing.T) {
	srv, m := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	_, err := m.Create(context.Background(), "tenant-1")
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/v1/sessions")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []manager.Summary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "tenant-1", got[0].ID)
	assert.Equal(t, session.StatusInitializing, got[0].Status)
}

func TestServer_GetSession(t *testing.T) {
	srv, m := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	_, err := m.Create(context.Background(), "tenant-1")
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/v1/sessions/tenant-1")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view manager.StatusView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, session.StatusInitializing, view.Status)
}

func TestServer_GetSessionNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/sessions/ghost")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
