package finance

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Invoice status values derived from the provider balance.
const (
	InvoiceStatusPending = "pending"
	InvoiceStatusPaid    = "paid"
)

var ErrInvoiceNotFound = errors.New("finance: invoice not found")

// Invoice mirrors a provider invoice for a known client.
type Invoice struct {
	ID         uuid.UUID
	ClientID   uuid.UUID
	ExternalID string
	TotalCents int64
	// BalanceCents is what remains unpaid. Status is derived from it.
	BalanceCents int64
	Status       string
	TxnDate      string
	DueDate      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DeriveStatus maps an unpaid balance to pending, anything else to paid.
func DeriveStatus(balanceCents int64) string {
	if balanceCents > 0 {
		return InvoiceStatusPending
	}
	return InvoiceStatusPaid
}

// Payment mirrors a provider payment for a known client.
type Payment struct {
	ID         uuid.UUID
	ClientID   uuid.UUID
	ExternalID string
	TotalCents int64
	TxnDate    string
	// InvoiceExternalIDs lists the provider invoices this payment settles.
	InvoiceExternalIDs []string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
