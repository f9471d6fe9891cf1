package messages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harborline/crm-platform/internal/calls"
	"github.com/harborline/crm-platform/internal/clients"
	"github.com/harborline/crm-platform/pkg/logging"
)

type identityResolver interface {
	Resolve(ctx context.Context, phone, externalID string) (*clients.Client, error)
}

type contactStamper interface {
	SetLastContact(ctx context.Context, id uuid.UUID, at time.Time, contactType string) error
}

type messageStore interface {
	Upsert(ctx context.Context, m *Message) error
}

// Event is the decoded payload of a message.created / message.updated webhook.
type Event struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	Direction      string    `json:"direction"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	Body           string    `json:"body"`
	AgentID        string    `json:"agent_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Ingestor persists message events. Same identity rule as calls: the
// customer-side number (sender when inbound, recipient when outbound)
// resolves the client. No billing implications.
type Ingestor struct {
	store    messageStore
	resolver identityResolver
	contacts contactStamper
	logger   *logging.Logger
}

func NewIngestor(store messageStore, resolver identityResolver, contacts contactStamper, logger *logging.Logger) *Ingestor {
	if store == nil {
		panic("messages: store required")
	}
	if resolver == nil {
		panic("messages: resolver required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Ingestor{store: store, resolver: resolver, contacts: contacts, logger: logger}
}

// Ingest upserts the message and refreshes the client's last-contact marker.
func (i *Ingestor) Ingest(ctx context.Context, evt Event) error {
	if evt.MessageID == "" {
		return errors.New("messages: event missing message_id")
	}
	phone := calls.CustomerNumber(evt.Direction, evt.From, evt.To)
	client, err := i.resolver.Resolve(ctx, phone, "")
	if err != nil {
		return fmt.Errorf("messages: resolve identity for %s: %w", evt.MessageID, err)
	}

	msg := &Message{
		MessageID:      evt.MessageID,
		ConversationID: evt.ConversationID,
		ClientID:       &client.ID,
		Phone:          phone,
		Direction:      evt.Direction,
		Body:           evt.Body,
		AgentID:        evt.AgentID,
		SentAt:         evt.CreatedAt,
	}
	if err := i.store.Upsert(ctx, msg); err != nil {
		return err
	}

	if i.contacts != nil {
		if err := i.contacts.SetLastContact(ctx, client.ID, evt.CreatedAt, "sms"); err != nil {
			// Denormalized convenience column; the message itself is durable.
			i.logger.Error("last-contact update failed", "error", err, "client_id", client.ID)
		}
	}
	return nil
}
