package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of pgxpool.Pool the store needs.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists calls and call charges in Postgres. Status transitions are
// guarded in SQL so redelivered or conflicting events cannot rewind a call.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		panic("calls: pgx pool required")
	}
	return &Store{pool: pool}
}

// Insert creates the ringing call row. Returns false when the call ID already
// exists, which is how redelivered call.started events become no-ops.
func (s *Store) Insert(ctx context.Context, c *Call) (bool, error) {
	query := `
		INSERT INTO calls (
			call_id, client_id, direction, status, started_at,
			is_subscriber, hours_remaining_start
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (call_id) DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, query,
		c.CallID, c.ClientID, c.Direction, StatusRinging, c.StartedAt,
		c.IsSubscriber, c.HoursRemainingStart,
	)
	if err != nil {
		return false, fmt.Errorf("calls: insert call: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// GetByCallID fetches a call by its external correlation key.
func (s *Store) GetByCallID(ctx context.Context, callID string) (*Call, error) {
	query := `
		SELECT call_id, client_id, direction, status, started_at, answered_at,
			ended_at, duration_seconds, billable_minutes, rate_cents, charge_cents,
			COALESCE(recording_url, ''), COALESCE(agent_id, ''),
			is_subscriber, hours_remaining_start, created_at, updated_at
		FROM calls
		WHERE call_id = $1
	`
	var c Call
	err := s.pool.QueryRow(ctx, query, callID).Scan(
		&c.CallID, &c.ClientID, &c.Direction, &c.Status, &c.StartedAt, &c.AnsweredAt,
		&c.EndedAt, &c.DurationSeconds, &c.BillableMinutes, &c.RateCents, &c.ChargeCents,
		&c.RecordingURL, &c.AgentID,
		&c.IsSubscriber, &c.HoursRemainingStart, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCallNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("calls: get call: %w", err)
	}
	return &c, nil
}

// MarkAnswered moves ringing -> connected. Returns false when the call was
// not ringing (redelivery or out-of-order event).
func (s *Store) MarkAnswered(ctx context.Context, callID, agentID string, answeredAt time.Time) (bool, error) {
	query := `
		UPDATE calls
		SET status = $2, answered_at = $3, agent_id = $4, updated_at = now()
		WHERE call_id = $1 AND status = $5
	`
	ct, err := s.pool.Exec(ctx, query, callID, StatusConnected, answeredAt, agentID, StatusRinging)
	if err != nil {
		return false, fmt.Errorf("calls: mark answered: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// Settlement carries everything a call.ended event commits as one unit: the
// terminal transition, the charge row, and the plan hours to consume.
type Settlement struct {
	CallID          string
	EndedAt         time.Time
	DurationSeconds int
	Billing         Billing
	RecordingURL    string
	Charge          *Charge   // nil when no charge is due
	UsageClientID   uuid.UUID // consume hours for this client when UsageHours > 0
	UsageHours      float64
}

// Settle moves ringing|connected -> completed and applies the billing side
// effects in the same transaction, so a crash between the transition and the
// charge cannot strand a completed-but-unbilled call. Returns false without
// side effects when the call was already terminal, which makes redelivered
// call.ended events no-ops whether the first delivery committed or rolled
// back.
func (s *Store) Settle(ctx context.Context, st Settlement) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("calls: begin settle: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE calls
		SET status = $2, ended_at = $3, duration_seconds = $4,
			billable_minutes = $5, rate_cents = $6, charge_cents = $7,
			recording_url = NULLIF($8, ''), updated_at = now()
		WHERE call_id = $1 AND status IN ($9, $10)
	`
	ct, err := tx.Exec(ctx, query,
		st.CallID, StatusCompleted, st.EndedAt, st.DurationSeconds,
		st.Billing.BillableMinutes, st.Billing.RateCents, st.Billing.TotalCents,
		st.RecordingURL, StatusRinging, StatusConnected,
	)
	if err != nil {
		return false, fmt.Errorf("calls: complete call: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return false, nil
	}

	if st.Charge != nil {
		if st.Charge.ID == uuid.Nil {
			st.Charge.ID = uuid.New()
		}
		if st.Charge.Status == "" {
			st.Charge.Status = "pending"
		}
		chargeQuery := `
			INSERT INTO call_charges (id, client_id, call_id, duration_seconds, rate_cents, total_cents, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (call_id) DO NOTHING
		`
		if _, err := tx.Exec(ctx, chargeQuery,
			st.Charge.ID, st.Charge.ClientID, st.Charge.CallID,
			st.Charge.DurationSeconds, st.Charge.RateCents, st.Charge.TotalCents, st.Charge.Status,
		); err != nil {
			return false, fmt.Errorf("calls: insert charge: %w", err)
		}
	}

	if st.UsageHours > 0 && st.UsageClientID != uuid.Nil {
		// Single atomic statement; the floor keeps hours_remaining from going
		// negative when two calls for the same client settle concurrently.
		usageQuery := `
			UPDATE subscriptions
			SET hours_used = hours_used + $2,
				hours_remaining = GREATEST(0, hours_remaining - $2),
				updated_at = now()
			WHERE client_id = $1
		`
		if _, err := tx.Exec(ctx, usageQuery, st.UsageClientID, st.UsageHours); err != nil {
			return false, fmt.Errorf("calls: consume plan hours: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("calls: commit settle: %w", err)
	}
	return true, nil
}

// MarkMissed moves ringing -> missed. No billing fields are touched.
func (s *Store) MarkMissed(ctx context.Context, callID string, endedAt time.Time) (bool, error) {
	query := `
		UPDATE calls
		SET status = $2, ended_at = $3, updated_at = now()
		WHERE call_id = $1 AND status = $4
	`
	ct, err := s.pool.Exec(ctx, query, callID, StatusMissed, endedAt, StatusRinging)
	if err != nil {
		return false, fmt.Errorf("calls: mark missed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

