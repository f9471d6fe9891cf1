package finance

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of pgxpool.Pool the stores need.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists invoice and payment mirrors in Postgres. External IDs are
// the idempotency keys: replayed webhooks and repeated syncs converge on one
// row per provider entity.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		panic("finance: pgx pool required")
	}
	return &Store{pool: pool}
}

// UpsertInvoice writes the invoice keyed by its provider ID and returns the
// stored row with its status derived from the balance.
func (s *Store) UpsertInvoice(ctx context.Context, inv *Invoice) (*Invoice, error) {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	inv.Status = DeriveStatus(inv.BalanceCents)
	query := `
		INSERT INTO invoices (id, client_id, external_id, total_cents, balance_cents, status, txn_date, due_date)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''))
		ON CONFLICT (external_id) DO UPDATE
		SET client_id = EXCLUDED.client_id,
			total_cents = EXCLUDED.total_cents,
			balance_cents = EXCLUDED.balance_cents,
			status = EXCLUDED.status,
			txn_date = EXCLUDED.txn_date,
			due_date = EXCLUDED.due_date,
			updated_at = now()
		RETURNING id, created_at, updated_at
	`
	err := s.pool.QueryRow(ctx, query,
		inv.ID, inv.ClientID, inv.ExternalID, inv.TotalCents, inv.BalanceCents,
		inv.Status, inv.TxnDate, inv.DueDate,
	).Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("finance: upsert invoice %s: %w", inv.ExternalID, err)
	}
	return inv, nil
}

// GetInvoiceByExternalID fetches the mirror for a provider invoice.
func (s *Store) GetInvoiceByExternalID(ctx context.Context, externalID string) (*Invoice, error) {
	query := `
		SELECT id, client_id, external_id, total_cents, balance_cents, status,
			COALESCE(txn_date, ''), COALESCE(due_date, ''), created_at, updated_at
		FROM invoices
		WHERE external_id = $1
	`
	var inv Invoice
	err := s.pool.QueryRow(ctx, query, externalID).Scan(
		&inv.ID, &inv.ClientID, &inv.ExternalID, &inv.TotalCents, &inv.BalanceCents,
		&inv.Status, &inv.TxnDate, &inv.DueDate, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finance: get invoice %s: %w", externalID, err)
	}
	return &inv, nil
}

// SumUnpaidByClient totals the open invoice balances for one client. Invoice
// sync mirrors the result onto the client's outstanding-balance column.
func (s *Store) SumUnpaidByClient(ctx context.Context, clientID uuid.UUID) (int64, error) {
	query := `
		SELECT COALESCE(SUM(balance_cents), 0)
		FROM invoices
		WHERE client_id = $1 AND balance_cents > 0
	`
	var total int64
	if err := s.pool.QueryRow(ctx, query, clientID).Scan(&total); err != nil {
		return 0, fmt.Errorf("finance: sum unpaid: %w", err)
	}
	return total, nil
}

// UpsertPayment writes the payment keyed by its provider ID.
func (s *Store) UpsertPayment(ctx context.Context, p *Payment) (*Payment, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.InvoiceExternalIDs == nil {
		p.InvoiceExternalIDs = []string{}
	}
	query := `
		INSERT INTO payments (id, client_id, external_id, total_cents, txn_date, invoice_external_ids)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
		ON CONFLICT (external_id) DO UPDATE
		SET client_id = EXCLUDED.client_id,
			total_cents = EXCLUDED.total_cents,
			txn_date = EXCLUDED.txn_date,
			invoice_external_ids = EXCLUDED.invoice_external_ids,
			updated_at = now()
		RETURNING id, created_at, updated_at
	`
	err := s.pool.QueryRow(ctx, query,
		p.ID, p.ClientID, p.ExternalID, p.TotalCents, p.TxnDate, p.InvoiceExternalIDs,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("finance: upsert payment %s: %w", p.ExternalID, err)
	}
	return p, nil
}

// SumPaymentsByClient totals everything a client has ever paid. Lifetime value
// is recomputed from this sum on every payment event, so the derived column
// self-heals after replays or reordering.
func (s *Store) SumPaymentsByClient(ctx context.Context, clientID uuid.UUID) (int64, error) {
	query := `SELECT COALESCE(SUM(total_cents), 0) FROM payments WHERE client_id = $1`
	var total int64
	if err := s.pool.QueryRow(ctx, query, clientID).Scan(&total); err != nil {
		return 0, fmt.Errorf("finance: sum payments: %w", err)
	}
	return total, nil
}
