package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborline/crm-platform/internal/livecalls"
	"github.com/harborline/crm-platform/pkg/logging"
)

func newLiveSetup(t *testing.T) (*livecalls.Store, *LiveCallsHandler) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	store := livecalls.NewStore(rdb, time.Hour)
	return store, NewLiveCallsHandler(store, logging.New("error"))
}

func TestLiveCallsList(t *testing.T) {
	store, h := newLiveSetup(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, livecalls.Entry{
		CallID: "call-1", ClientName: "Dana Reyes", Phone: "5551234567",
		Direction: "inbound", Status: "ringing", StartedAt: time.Now(),
	}))

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/live-calls", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "call-1")
	assert.Contains(t, rec.Body.String(), "Dana Reyes")
}

func TestLiveCallsListEmpty(t *testing.T) {
	_, h := newLiveSetup(t)

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/live-calls", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"calls":[]`)
}

func TestLiveCallsStream(t *testing.T) {
	store, h := newLiveSetup(t)

	srv := httptest.NewServer(http.HandlerFunc(h.Stream))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Give the subscription a moment to register before publishing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, store.Put(context.Background(), livecalls.Entry{
		CallID: "call-9", ClientName: "Dana", Status: "ringing", StartedAt: time.Now(),
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"kind":"put"`)
	assert.Contains(t, string(payload), "call-9")
}
