package handlers

import (
	"context"
	"net/http"
	"time"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports reachability of the service's backing stores.
type HealthHandler struct {
	db         pinger
	redisCheck func(ctx context.Context) error
}

func NewHealthHandler(db pinger, redisCheck func(ctx context.Context) error) *HealthHandler {
	return &HealthHandler{db: db, redisCheck: redisCheck}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	checks := map[string]string{}

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			checks["database"] = "unreachable"
			status = "degraded"
			code = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	}
	if h.redisCheck != nil {
		if err := h.redisCheck(ctx); err != nil {
			checks["redis"] = "unreachable"
			status = "degraded"
			code = http.StatusServiceUnavailable
		} else {
			checks["redis"] = "ok"
		}
	}

	writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}
