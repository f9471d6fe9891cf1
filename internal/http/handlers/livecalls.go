package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/harborline/crm-platform/internal/livecalls"
	"github.com/harborline/crm-platform/pkg/logging"
)

type liveQueueReader interface {
	List(ctx context.Context) ([]livecalls.Entry, error)
	Subscribe(ctx context.Context) *redis.PubSub
}

// LiveCallsHandler serves the real-time queue view: a JSON snapshot and a
// websocket stream of change events.
type LiveCallsHandler struct {
	store    liveQueueReader
	logger   *logging.Logger
	upgrader websocket.Upgrader
}

func NewLiveCallsHandler(store liveQueueReader, logger *logging.Logger) *LiveCallsHandler {
	if store == nil {
		panic("handlers: live queue store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &LiveCallsHandler{
		store:  store,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Dashboard origins are enforced by the CORS layer.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// List returns the current queue snapshot.
func (h *LiveCallsHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("live queue list failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "live queue unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": entries})
}

// Stream upgrades to websocket and relays queue change events until the
// client disconnects.
func (h *LiveCallsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := h.store.Subscribe(ctx)
	defer sub.Close()

	// Drain client frames so pings are answered and closes are noticed.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				h.logger.Info("live stream client gone", "error", err)
				return
			}
		}
	}
}
