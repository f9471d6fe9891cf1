package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harborline/crm-platform/internal/calls"
	"github.com/harborline/crm-platform/internal/messages"
	"github.com/harborline/crm-platform/internal/observability/metrics"
	"github.com/harborline/crm-platform/internal/telephony"
	"github.com/harborline/crm-platform/pkg/logging"
)

var telephonyTracer = otel.Tracer("crm.internal.http.handlers.telephony")

type processedTracker interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

type callProcessor interface {
	HandleStarted(ctx context.Context, evt calls.StartedEvent) error
	HandleAnswered(ctx context.Context, evt calls.AnsweredEvent) error
	HandleEnded(ctx context.Context, evt calls.EndedEvent) error
	HandleMissed(ctx context.Context, evt calls.MissedEvent) error
}

type messageIngestor interface {
	Ingest(ctx context.Context, evt messages.Event) error
}

// telephonyEvent is the webhook envelope; Data varies by Type.
type telephonyEvent struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// TelephonyWebhookHandler receives call and message lifecycle events from the
// telephony provider.
type TelephonyWebhookHandler struct {
	processor  callProcessor
	ingestor   messageIngestor
	processed  processedTracker
	secret     string
	skipVerify bool
	logger     *logging.Logger
	metrics    *metrics.WebhookMetrics
	now        func() time.Time
}

type TelephonyWebhookConfig struct {
	Processor     callProcessor
	Ingestor      messageIngestor
	Processed     processedTracker
	WebhookSecret string
	// SkipVerify disables signature checking. Test environments only.
	SkipVerify bool
	Logger     *logging.Logger
	Metrics    *metrics.WebhookMetrics
}

func NewTelephonyWebhookHandler(cfg TelephonyWebhookConfig) *TelephonyWebhookHandler {
	if cfg.Processor == nil {
		panic("handlers: call processor required")
	}
	if cfg.Ingestor == nil {
		panic("handlers: message ingestor required")
	}
	if cfg.Processed == nil {
		panic("handlers: processed tracker required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &TelephonyWebhookHandler{
		processor:  cfg.Processor,
		ingestor:   cfg.Ingestor,
		processed:  cfg.Processed,
		secret:     cfg.WebhookSecret,
		skipVerify: cfg.SkipVerify,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		now:        time.Now,
	}
}

// HandleEvents verifies, deduplicates and dispatches one webhook delivery.
func (h *TelephonyWebhookHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	ctx, span := telephonyTracer.Start(r.Context(), "telephony.webhook")
	defer span.End()
	start := h.now()

	body, err := readBody(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid body")
		return
	}

	if !h.skipVerify {
		err := telephony.VerifyWebhookSignature(
			h.secret, body,
			r.Header.Get("X-Provider-Timestamp"),
			r.Header.Get("X-Provider-Signature"),
			h.now(),
		)
		if err != nil {
			h.logger.Warn("invalid telephony webhook signature", "error", err)
			h.metrics.ObserveEvent("telephony", "unknown", "rejected")
			span.RecordError(err)
			writeJSONError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	var evt telephonyEvent
	if err := json.Unmarshal(body, &evt); err != nil || evt.ID == "" || evt.Type == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	span.SetAttributes(
		attribute.String("webhook.event_id", evt.ID),
		attribute.String("webhook.event_type", evt.Type),
	)

	if processed, err := h.processed.AlreadyProcessed(ctx, "telephony", evt.ID); err != nil {
		h.logger.Error("processed lookup failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "server error")
		return
	} else if processed {
		h.metrics.ObserveEvent("telephony", evt.Type, "duplicate")
		writeJSON(w, http.StatusOK, map[string]string{"status": "already processed"})
		return
	}

	if err := h.dispatch(ctx, evt); err != nil {
		h.logger.Error("telephony webhook handling failed", "error", err, "event_type", evt.Type)
		h.metrics.ObserveEvent("telephony", evt.Type, "error")
		span.RecordError(err)
		writeJSONError(w, http.StatusInternalServerError, "processing error")
		return
	}

	if _, err := h.processed.MarkProcessed(ctx, "telephony", evt.ID); err != nil {
		// Redelivery will hit the idempotent upserts; dedup is best-effort.
		h.logger.Error("failed to mark event processed", "error", err, "event_id", evt.ID)
	}
	h.metrics.ObserveEvent("telephony", evt.Type, "ok")
	h.metrics.ObserveLatency("telephony", evt.Type, h.now().Sub(start).Seconds())
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *TelephonyWebhookHandler) dispatch(ctx context.Context, evt telephonyEvent) error {
	switch calls.EventType(evt.Type) {
	case calls.EventCallStarted:
		var data calls.StartedEvent
		if err := json.Unmarshal(evt.Data, &data); err != nil {
			return err
		}
		return h.processor.HandleStarted(ctx, data)
	case calls.EventCallAnswered:
		var data calls.AnsweredEvent
		if err := json.Unmarshal(evt.Data, &data); err != nil {
			return err
		}
		return h.processor.HandleAnswered(ctx, data)
	case calls.EventCallEnded:
		var data calls.EndedEvent
		if err := json.Unmarshal(evt.Data, &data); err != nil {
			return err
		}
		return h.processor.HandleEnded(ctx, data)
	case calls.EventCallMissed:
		var data calls.MissedEvent
		if err := json.Unmarshal(evt.Data, &data); err != nil {
			return err
		}
		return h.processor.HandleMissed(ctx, data)
	case calls.EventMessageCreated, calls.EventMessageUpdated:
		var data messages.Event
		if err := json.Unmarshal(evt.Data, &data); err != nil {
			return err
		}
		return h.ingestor.Ingest(ctx, data)
	default:
		h.logger.Info("ignoring unrecognized telephony event", "event_type", evt.Type)
		return nil
	}
}
