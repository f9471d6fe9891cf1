package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborline/crm-platform/internal/http/handlers"
	"github.com/harborline/crm-platform/pkg/logging"
)

func TestRouterHealthRoute(t *testing.T) {
	r := New(&Config{
		Logger:        logging.New("error"),
		HealthHandler: handlers.NewHealthHandler(nil, nil),
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterUnknownRoute(t *testing.T) {
	r := New(&Config{Logger: logging.New("error")})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouterSyncRequiresAdminJWT(t *testing.T) {
	r := New(&Config{
		Logger:          logging.New("error"),
		SyncHandler:     handlers.NewSyncHandler(nil, nil, logging.New("error")),
		AdminAuthSecret: "admin-secret",
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sync/accounting", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "missing token must be rejected")

	req := httptest.NewRequest(http.MethodPost, "/sync/accounting", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "admin-secret"))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	// Sync handler itself reports unconfigured; auth passed.
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouterWebhookMethodNotAllowed(t *testing.T) {
	h := handlers.NewAccountingWebhookHandler(handlers.AccountingWebhookConfig{
		Engine: noopEngine{},
		Logger: logging.New("error"),
	})
	r := New(&Config{Logger: logging.New("error"), AccountingWebhooks: h})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/webhooks/accounting", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func adminToken(t *testing.T, secret string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

type noopEngine struct{}

func (noopEngine) ReconcileCustomer(ctx context.Context, id string) error { return nil }
func (noopEngine) ReconcileInvoice(ctx context.Context, id string) error  { return nil }
func (noopEngine) ReconcilePayment(ctx context.Context, id string) error  { return nil }
