package clients

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrClientNotFound = errors.New("clients: client not found")

// Client is the canonical customer identity. Rows are created on the first
// event referencing an unknown phone number or accounting ID and are never
// hard-deleted by this service.
type Client struct {
	ID                      uuid.UUID
	Name                    string
	Company                 string
	Phone                   string
	AltPhone                string
	Email                   string
	ExternalAccountingID    string // empty when the accounting link does not exist yet
	OutstandingBalanceCents int64
	LifetimeValueCents      int64
	Tags                    []string
	LastContactAt           *time.Time
	LastContactType         string
	LastSyncedAt            *time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// Subscription is a client's plan state. Hours are consumed by the billing
// calculator on call completion and never go negative.
type Subscription struct {
	ClientID       uuid.UUID
	Plan           string
	Status         string
	HoursUsed      float64
	HoursRemaining float64
	UpdatedAt      time.Time
}

// Covers reports whether the plan pays for call minutes right now. Status
// alone is not enough: every new client gets a zero-hour default row, and a
// plan with no remaining hours bills per call even while it stays active.
func (s Subscription) Covers() bool {
	return s.Status == "active" && s.HoursRemaining > 0
}

const (
	DefaultPlan               = "Basic"
	DefaultSubscriptionStatus = "active"
)
