package syncer

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/harborline/crm-platform/internal/calls"
	"github.com/harborline/crm-platform/internal/messages"
	"github.com/harborline/crm-platform/internal/observability/metrics"
	"github.com/harborline/crm-platform/internal/telephony"
	"github.com/harborline/crm-platform/pkg/logging"
)

// TelephonySummary is the sync-trigger response body for a telephony import.
type TelephonySummary struct {
	Success   bool        `json:"success"`
	Calls     PhaseResult `json:"calls"`
	Messages  PhaseResult `json:"messages"`
	Timestamp time.Time   `json:"timestamp"`
}

type telephonyAPI interface {
	ListCalls(ctx context.Context, page int) ([]telephony.CallRecord, bool, error)
	ListMessages(ctx context.Context, page int) ([]telephony.MessageRecord, bool, error)
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

// TelephonyImport pages the provider's history and replays every record
// through the same lifecycle handlers the webhooks use, so the imported rows
// obey the same state machine, billing and idempotency rules as live events.
type TelephonyImport struct {
	api       telephonyAPI
	processor callProcessor
	ingestor  messageIngestor
	logger    *logging.Logger
	metrics   *metrics.SyncMetrics
	now       func() time.Time
}

func NewTelephonyImport(api telephonyAPI, processor callProcessor, ingestor messageIngestor, logger *logging.Logger, m *metrics.SyncMetrics) *TelephonyImport {
	if api == nil {
		panic("syncer: telephony api required")
	}
	if processor == nil {
		panic("syncer: call processor required")
	}
	if ingestor == nil {
		panic("syncer: message ingestor required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TelephonyImport{api: api, processor: processor, ingestor: ingestor, logger: logger, metrics: m, now: time.Now}
}

// Run imports calls, then messages. Per-record failures are collected; only
// a provider fetch failure aborts the run.
func (s *TelephonyImport) Run(ctx context.Context) (*TelephonySummary, error) {
	ctx, span := syncTracer.Start(ctx, "syncer.telephony.run")
	defer span.End()

	summary := &TelephonySummary{}

	callStart := s.now()
	callResult, err := s.importCalls(ctx)
	s.metrics.ObservePhase("calls", s.now().Sub(callStart).Seconds())
	if err != nil {
		return nil, fmt.Errorf("syncer: calls phase: %w", err)
	}
	summary.Calls = callResult

	msgStart := s.now()
	msgResult, err := s.importMessages(ctx)
	s.metrics.ObservePhase("messages", s.now().Sub(msgStart).Seconds())
	if err != nil {
		return nil, fmt.Errorf("syncer: messages phase: %w", err)
	}
	summary.Messages = msgResult

	summary.Success = callResult.Errors == 0 && msgResult.Errors == 0
	summary.Timestamp = s.now().UTC()
	span.SetAttributes(
		attribute.Bool("sync.success", summary.Success),
		attribute.Int("sync.calls.synced", callResult.Synced),
		attribute.Int("sync.messages.synced", msgResult.Synced),
	)
	return summary, nil
}

func (s *TelephonyImport) importCalls(ctx context.Context) (PhaseResult, error) {
	var result PhaseResult
	for page := 1; ; page++ {
		batch, more, err := s.api.ListCalls(ctx, page)
		if err != nil {
			return result, err
		}
		for _, rec := range batch {
			if err := s.replayCall(ctx, rec); err != nil {
				result.Errors++
				result.Failed = append(result.Failed, rec.ID)
				s.metrics.ObserveRecord("calls", "error")
				s.logger.Error("call import failed", "call_id", rec.ID, "error", err)
				continue
			}
			result.Synced++
			s.metrics.ObserveRecord("calls", "synced")
		}
		if !more {
			return result, nil
		}
	}
}

// replayCall reconstructs the lifecycle events a historical call would have
// produced and feeds them through the processor in order.
func (s *TelephonyImport) replayCall(ctx context.Context, rec telephony.CallRecord) error {
	if err := s.processor.HandleStarted(ctx, calls.StartedEvent{
		CallID:    rec.ID,
		Direction: rec.Direction,
		From:      rec.From,
		To:        rec.To,
		StartedAt: rec.StartedAt,
	}); err != nil {
		return err
	}

	if rec.AnsweredAt != nil {
		if err := s.processor.HandleAnswered(ctx, calls.AnsweredEvent{
			CallID:     rec.ID,
			AgentID:    rec.AgentID,
			AgentName:  rec.AgentName,
			AnsweredAt: *rec.AnsweredAt,
		}); err != nil {
			return err
		}
	}

	endedAt := rec.StartedAt
	if rec.EndedAt != nil {
		endedAt = *rec.EndedAt
	}
	switch rec.Status {
	case string(calls.StatusMissed):
		return s.processor.HandleMissed(ctx, calls.MissedEvent{CallID: rec.ID, EndedAt: endedAt})
	case string(calls.StatusCompleted):
		return s.processor.HandleEnded(ctx, calls.EndedEvent{
			CallID:          rec.ID,
			DurationSeconds: rec.DurationSeconds,
			EndedAt:         endedAt,
			RecordingURL:    rec.RecordingURL,
		})
	default:
		// Still in flight at export time; leave it in its non-terminal state.
		return nil
	}
}

func (s *TelephonyImport) importMessages(ctx context.Context) (PhaseResult, error) {
	var result PhaseResult
	for page := 1; ; page++ {
		batch, more, err := s.api.ListMessages(ctx, page)
		if err != nil {
			return result, err
		}
		for _, rec := range batch {
			err := s.ingestor.Ingest(ctx, messages.Event{
				MessageID:      rec.ID,
				ConversationID: rec.ConversationID,
				Direction:      rec.Direction,
				From:           rec.From,
				To:             rec.To,
				Body:           rec.Body,
				AgentID:        rec.AgentID,
				CreatedAt:      rec.CreatedAt,
			})
			if err != nil {
				result.Errors++
				result.Failed = append(result.Failed, rec.ID)
				s.metrics.ObserveRecord("messages", "error")
				s.logger.Error("message import failed", "message_id", rec.ID, "error", err)
				continue
			}
			result.Synced++
			s.metrics.ObserveRecord("messages", "synced")
		}
		if !more {
			return result, nil
		}
	}
}
