package messages

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Message is one SMS event. The external message ID is the idempotency key:
// redelivery overwrites the row instead of duplicating it.
type Message struct {
	MessageID      string
	ConversationID string
	ClientID       *uuid.UUID
	Phone          string
	Direction      string // inbound|outbound
	Body           string
	AgentID        string
	SentAt         time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PgxPool is the subset of pgxpool.Pool the store needs.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists messages in Postgres.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		panic("messages: pgx pool required")
	}
	return &Store{pool: pool}
}

// Upsert writes the message keyed on its external ID.
func (s *Store) Upsert(ctx context.Context, m *Message) error {
	query := `
		INSERT INTO messages (
			message_id, conversation_id, client_id, phone, direction, body, agent_id, sent_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
		ON CONFLICT (message_id) DO UPDATE
		SET conversation_id = EXCLUDED.conversation_id,
			client_id = COALESCE(EXCLUDED.client_id, messages.client_id),
			body = EXCLUDED.body,
			agent_id = COALESCE(EXCLUDED.agent_id, messages.agent_id),
			updated_at = now()
	`
	_, err := s.pool.Exec(ctx, query,
		m.MessageID, m.ConversationID, m.ClientID, m.Phone, m.Direction, m.Body, m.AgentID, m.SentAt,
	)
	if err != nil {
		return fmt.Errorf("messages: upsert message: %w", err)
	}
	return nil
}
