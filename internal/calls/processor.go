package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harborline/crm-platform/internal/clients"
	"github.com/harborline/crm-platform/internal/livecalls"
	"github.com/harborline/crm-platform/internal/observability/metrics"
	"github.com/harborline/crm-platform/pkg/logging"
)

type identityResolver interface {
	Resolve(ctx context.Context, phone, externalID string) (*clients.Client, error)
}

type subscriptionStore interface {
	GetSubscription(ctx context.Context, clientID uuid.UUID) (*clients.Subscription, error)
}

type callStore interface {
	Insert(ctx context.Context, c *Call) (bool, error)
	GetByCallID(ctx context.Context, callID string) (*Call, error)
	MarkAnswered(ctx context.Context, callID, agentID string, answeredAt time.Time) (bool, error)
	Settle(ctx context.Context, st Settlement) (bool, error)
	MarkMissed(ctx context.Context, callID string, endedAt time.Time) (bool, error)
}

type liveQueue interface {
	Put(ctx context.Context, e livecalls.Entry) error
	SetConnected(ctx context.Context, callID, agentName string) error
	Delete(ctx context.Context, callID string) error
}

// StartedEvent is the decoded payload of a call.started webhook.
type StartedEvent struct {
	CallID    string    `json:"call_id"`
	Direction string    `json:"direction"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	StartedAt time.Time `json:"started_at"`
}

// AnsweredEvent is the decoded payload of a call.answered webhook.
type AnsweredEvent struct {
	CallID     string    `json:"call_id"`
	AgentID    string    `json:"agent_id"`
	AgentName  string    `json:"agent_name"`
	AnsweredAt time.Time `json:"answered_at"`
}

// EndedEvent is the decoded payload of a call.ended webhook.
type EndedEvent struct {
	CallID          string    `json:"call_id"`
	DurationSeconds int       `json:"duration"`
	EndedAt         time.Time `json:"ended_at"`
	RecordingURL    string    `json:"recording_url"`
}

// MissedEvent is the decoded payload of a call.missed webhook.
type MissedEvent struct {
	CallID  string    `json:"call_id"`
	EndedAt time.Time `json:"ended_at"`
}

// Processor advances call state from lifecycle events and emits the side
// effects: the durable record, the live-queue projection, subscription hour
// consumption, and pay-per-call charges.
type Processor struct {
	store    callStore
	resolver identityResolver
	subs     subscriptionStore
	live     liveQueue
	logger   *logging.Logger
	metrics  *metrics.WebhookMetrics
}

func NewProcessor(store callStore, resolver identityResolver, subs subscriptionStore, live liveQueue, logger *logging.Logger, m *metrics.WebhookMetrics) *Processor {
	if store == nil {
		panic("calls: store required")
	}
	if resolver == nil {
		panic("calls: resolver required")
	}
	if subs == nil {
		panic("calls: subscription store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Processor{
		store:    store,
		resolver: resolver,
		subs:     subs,
		live:     live,
		logger:   logger,
		metrics:  m,
	}
}

// HandleStarted resolves the customer identity, snapshots the subscriber
// state, and inserts the ringing call plus its live-queue entry.
func (p *Processor) HandleStarted(ctx context.Context, evt StartedEvent) error {
	if evt.CallID == "" {
		return errors.New("calls: started event missing call_id")
	}
	phone := CustomerNumber(evt.Direction, evt.From, evt.To)
	client, err := p.resolver.Resolve(ctx, phone, "")
	if err != nil {
		return fmt.Errorf("calls: resolve identity for %s: %w", evt.CallID, err)
	}

	isSubscriber := false
	hoursRemaining := 0.0
	sub, err := p.subs.GetSubscription(ctx, client.ID)
	switch {
	case err == nil:
		isSubscriber = sub.Covers()
		hoursRemaining = sub.HoursRemaining
	case errors.Is(err, clients.ErrClientNotFound):
		// No subscription row: billed per call.
	default:
		return fmt.Errorf("calls: snapshot subscription for %s: %w", evt.CallID, err)
	}

	call := &Call{
		CallID:              evt.CallID,
		ClientID:            &client.ID,
		Direction:           evt.Direction,
		StartedAt:           evt.StartedAt,
		IsSubscriber:        isSubscriber,
		HoursRemainingStart: hoursRemaining,
	}
	inserted, err := p.store.Insert(ctx, call)
	if err != nil {
		return err
	}
	if !inserted {
		p.logger.Info("call.started redelivered, call exists", "call_id", evt.CallID)
		return nil
	}

	if p.live != nil {
		entry := livecalls.Entry{
			CallID:     evt.CallID,
			ClientName: client.Name,
			Company:    client.Company,
			Phone:      phone,
			Direction:  evt.Direction,
			Subscriber: isSubscriber,
			Status:     string(StatusRinging),
			StartedAt:  evt.StartedAt,
		}
		if err := p.live.Put(ctx, entry); err != nil {
			// Secondary projection; the durable call row already landed.
			p.logger.Error("live queue insert failed", "error", err, "call_id", evt.CallID)
		}
	}
	return nil
}

// HandleAnswered moves the call to connected and updates the live entry.
func (p *Processor) HandleAnswered(ctx context.Context, evt AnsweredEvent) error {
	applied, err := p.store.MarkAnswered(ctx, evt.CallID, evt.AgentID, evt.AnsweredAt)
	if err != nil {
		return err
	}
	if !applied {
		p.logger.Warn("call.answered ignored, call not ringing", "call_id", evt.CallID)
		p.metrics.ObserveInvalidTransition(string(EventCallAnswered))
		return nil
	}
	if p.live != nil {
		if err := p.live.SetConnected(ctx, evt.CallID, evt.AgentName); err != nil {
			p.logger.Error("live queue update failed", "error", err, "call_id", evt.CallID)
		}
	}
	return nil
}

// HandleEnded completes the call, rates it from the start-of-call subscriber
// snapshot, and commits the transition together with its charge or hour
// deduction in one settlement. A failure anywhere rolls the whole thing back,
// so the provider's redelivery re-runs it from scratch; once settled, the
// conditional transition makes further deliveries no-ops.
func (p *Processor) HandleEnded(ctx context.Context, evt EndedEvent) error {
	call, err := p.store.GetByCallID(ctx, evt.CallID)
	if errors.Is(err, ErrCallNotFound) {
		p.logger.Warn("call.ended for unknown call", "call_id", evt.CallID)
		p.metrics.ObserveInvalidTransition(string(EventCallEnded))
		return nil
	}
	if err != nil {
		return err
	}

	billing := ComputeBilling(evt.DurationSeconds, call.IsSubscriber)
	st := Settlement{
		CallID:          evt.CallID,
		EndedAt:         evt.EndedAt,
		DurationSeconds: evt.DurationSeconds,
		Billing:         billing,
		RecordingURL:    evt.RecordingURL,
	}
	switch {
	case call.ClientID == nil:
		p.logger.Warn("completed call has no client, no billing side effects", "call_id", evt.CallID)
	case call.IsSubscriber:
		if billing.BillableMinutes > 0 {
			st.UsageClientID = *call.ClientID
			st.UsageHours = UsageHours(billing.BillableMinutes)
		}
	case billing.TotalCents > 0:
		st.Charge = &Charge{
			ClientID:        *call.ClientID,
			CallID:          evt.CallID,
			DurationSeconds: evt.DurationSeconds,
			RateCents:       billing.RateCents,
			TotalCents:      billing.TotalCents,
			Status:          "pending",
		}
	}

	applied, err := p.store.Settle(ctx, st)
	if err != nil {
		return fmt.Errorf("calls: settle %s: %w", evt.CallID, err)
	}
	if !applied {
		p.logger.Warn("call terminal transition ignored",
			"call_id", evt.CallID, "status", call.Status, "event", EventCallEnded)
		p.metrics.ObserveInvalidTransition(string(EventCallEnded))
		return nil
	}

	if p.live != nil {
		if err := p.live.Delete(ctx, evt.CallID); err != nil {
			p.logger.Error("live queue delete failed", "error", err, "call_id", evt.CallID)
		}
	}
	return nil
}

// HandleMissed moves ringing -> missed and removes the live entry. No billing.
func (p *Processor) HandleMissed(ctx context.Context, evt MissedEvent) error {
	applied, err := p.store.MarkMissed(ctx, evt.CallID, evt.EndedAt)
	if err != nil {
		return err
	}
	if !applied {
		p.logger.Warn("call terminal transition ignored",
			"call_id", evt.CallID, "event", EventCallMissed)
		p.metrics.ObserveInvalidTransition(string(EventCallMissed))
	}
	if p.live != nil {
		if err := p.live.Delete(ctx, evt.CallID); err != nil {
			p.logger.Error("live queue delete failed", "error", err, "call_id", evt.CallID)
		}
	}
	return nil
}
