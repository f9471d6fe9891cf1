package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harborline/crm-platform/internal/observability/metrics"
	"github.com/harborline/crm-platform/pkg/logging"
)

var accountingTracer = otel.Tracer("crm.internal.http.handlers.accounting")

type reconcileEngine interface {
	ReconcileCustomer(ctx context.Context, externalID string) error
	ReconcileInvoice(ctx context.Context, externalID string) error
	ReconcilePayment(ctx context.Context, externalID string) error
}

type accountingNotification struct {
	EventNotifications []struct {
		RealmID         string `json:"realmId"`
		DataChangeEvent struct {
			Entities []accountingEntity `json:"entities"`
		} `json:"dataChangeEvent"`
	} `json:"eventNotifications"`
}

type accountingEntity struct {
	Name        string `json:"name"`
	ID          string `json:"id"`
	Operation   string `json:"operation"`
	LastUpdated string `json:"lastUpdated"`
}

// AccountingWebhookHandler receives change notifications from the accounting
// provider and drives the reconciliation engine.
type AccountingWebhookHandler struct {
	engine     reconcileEngine
	secret     string
	skipVerify bool
	realmID    string
	logger     *logging.Logger
	metrics    *metrics.WebhookMetrics
}

type AccountingWebhookConfig struct {
	Engine        reconcileEngine
	WebhookSecret string
	// SkipVerify disables signature checking, for local development against
	// unsigned sandbox deliveries. Without it an empty secret rejects
	// everything rather than accepting everything.
	SkipVerify bool
	RealmID    string
	Logger     *logging.Logger
	Metrics    *metrics.WebhookMetrics
}

func NewAccountingWebhookHandler(cfg AccountingWebhookConfig) *AccountingWebhookHandler {
	if cfg.Engine == nil {
		panic("handlers: reconcile engine required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &AccountingWebhookHandler{
		engine:     cfg.Engine,
		secret:     cfg.WebhookSecret,
		skipVerify: cfg.SkipVerify,
		realmID:    cfg.RealmID,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
}

// HandleChallenge echoes the provider's handshake token as plain text.
func (h *AccountingWebhookHandler) HandleChallenge(w http.ResponseWriter, r *http.Request) {
	challenge := r.URL.Query().Get("challenge")
	if challenge == "" {
		writeJSONError(w, http.StatusBadRequest, "missing challenge")
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

// HandleEvents verifies the notification signature and reconciles each
// changed entity. Individual entity failures are logged and do not fail the
// delivery; the provider retries the whole batch otherwise.
func (h *AccountingWebhookHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	ctx, span := accountingTracer.Start(r.Context(), "accounting.webhook")
	defer span.End()
	start := time.Now()

	body, err := readBody(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid body")
		return
	}

	if !h.verifySignature(body, r.Header.Get("X-Accounting-Signature")) {
		h.logger.Warn("invalid accounting webhook signature")
		h.metrics.ObserveEvent("accounting", "notification", "rejected")
		writeJSONError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var payload accountingNotification
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	var handled, failed int
	for _, notification := range payload.EventNotifications {
		if h.realmID != "" && notification.RealmID != h.realmID {
			h.logger.Warn("notification for unexpected realm, skipping", "realm_id", notification.RealmID)
			continue
		}
		for _, entity := range notification.DataChangeEvent.Entities {
			if err := h.processEntity(ctx, entity); err != nil {
				failed++
				h.logger.Error("entity reconciliation failed",
					"error", err, "entity", entity.Name, "id", entity.ID, "operation", entity.Operation)
				continue
			}
			handled++
		}
	}
	span.SetAttributes(
		attribute.Int("webhook.entities_handled", handled),
		attribute.Int("webhook.entities_failed", failed),
	)

	h.metrics.ObserveEvent("accounting", "notification", "ok")
	h.metrics.ObserveLatency("accounting", "notification", time.Since(start).Seconds())
	writeJSON(w, http.StatusOK, map[string]int{"handled": handled, "failed": failed})
}

func (h *AccountingWebhookHandler) processEntity(ctx context.Context, entity accountingEntity) error {
	switch entity.Operation {
	case "Create", "Update":
	case "Delete", "Merge", "Void":
		// Accepted but not reconciled. The counter makes the gap visible so
		// stale mirrors of voided invoices show up in dashboards instead of
		// silently drifting.
		h.logger.Warn("unhandled accounting operation",
			"operation", entity.Operation, "entity", entity.Name, "id", entity.ID)
		h.metrics.ObserveUnhandledOperation(entity.Operation, entity.Name)
		return nil
	default:
		h.logger.Warn("unknown accounting operation",
			"operation", entity.Operation, "entity", entity.Name, "id", entity.ID)
		h.metrics.ObserveUnhandledOperation(entity.Operation, entity.Name)
		return nil
	}

	switch entity.Name {
	case "Customer":
		return h.engine.ReconcileCustomer(ctx, entity.ID)
	case "Invoice":
		return h.engine.ReconcileInvoice(ctx, entity.ID)
	case "Payment":
		return h.engine.ReconcilePayment(ctx, entity.ID)
	case "Estimate":
		// Estimates carry no financial state we mirror.
		return nil
	default:
		h.logger.Info("ignoring unrecognized accounting entity", "entity", entity.Name)
		return nil
	}
}

// verifySignature checks the base64 HMAC-SHA256 of the raw body. Unlike the
// telephony check there is no timestamp component, but the comparison is
// still constant-time. A missing secret fails closed; unsigned deliveries
// are only accepted behind the explicit SkipVerify flag.
func (h *AccountingWebhookHandler) verifySignature(body []byte, header string) bool {
	if h.skipVerify {
		return true
	}
	if h.secret == "" || header == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}
