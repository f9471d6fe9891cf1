package clients

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of pgxpool.Pool the repository needs.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository stores clients and their subscriptions in Postgres.
type Repository struct {
	pool PgxPool
}

func NewRepository(pool PgxPool) *Repository {
	if pool == nil {
		panic("clients: pgx pool required")
	}
	return &Repository{pool: pool}
}

const clientColumns = `
	id, name, company, phone, alt_phone, email,
	COALESCE(external_id, ''), outstanding_balance_cents, lifetime_value_cents,
	tags, last_contact_at, COALESCE(last_contact_type, ''), last_synced_at,
	created_at, updated_at`

func scanClient(row pgx.Row) (*Client, error) {
	var c Client
	if err := row.Scan(
		&c.ID, &c.Name, &c.Company, &c.Phone, &c.AltPhone, &c.Email,
		&c.ExternalAccountingID, &c.OutstandingBalanceCents, &c.LifetimeValueCents,
		&c.Tags, &c.LastContactAt, &c.LastContactType, &c.LastSyncedAt,
		&c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("clients: scan: %w", err)
	}
	return &c, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE id = $1`
	return scanClient(r.pool.QueryRow(ctx, query, id))
}

// GetByExternalID fetches the single client linked to an accounting ID.
func (r *Repository) GetByExternalID(ctx context.Context, externalID string) (*Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE external_id = $1`
	return scanClient(r.pool.QueryRow(ctx, query, externalID))
}

// FindByPhone matches on the digits-only form of either phone column.
func (r *Repository) FindByPhone(ctx context.Context, phone string) (*Client, error) {
	digits := NormalizePhone(phone)
	if digits == "" {
		return nil, ErrClientNotFound
	}
	query := `
		SELECT ` + clientColumns + `
		FROM clients
		WHERE phone_digits = $1 OR alt_phone_digits = $1
		ORDER BY created_at
		LIMIT 1
	`
	return scanClient(r.pool.QueryRow(ctx, query, digits))
}

// Create inserts a client plus its default subscription. Concurrent creates for
// the same phone number race on the phone_digits unique index; the loser falls
// back to the row the winner inserted.
func (r *Repository) Create(ctx context.Context, c *Client) (*Client, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	digits := NormalizePhone(c.Phone)
	altDigits := NormalizePhone(c.AltPhone)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("clients: begin create: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO clients (
			id, name, company, phone, alt_phone, phone_digits, alt_phone_digits,
			email, external_id, tags
		)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, NULLIF($9, ''), $10)
		ON CONFLICT DO NOTHING
		RETURNING created_at, updated_at
	`
	err = tx.QueryRow(ctx, query,
		c.ID, c.Name, c.Company, c.Phone, c.AltPhone, digits, altDigits,
		c.Email, c.ExternalAccountingID, c.Tags,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the insert race: another delivery created this client first.
		if digits != "" {
			if existing, ferr := r.FindByPhone(ctx, digits); ferr == nil {
				return existing, nil
			}
		}
		if c.ExternalAccountingID != "" {
			if existing, ferr := r.GetByExternalID(ctx, c.ExternalAccountingID); ferr == nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("clients: create conflict but no existing row for %q", c.Phone)
	}
	if err != nil {
		return nil, fmt.Errorf("clients: insert client: %w", err)
	}

	subQuery := `
		INSERT INTO subscriptions (client_id, plan, status, hours_used, hours_remaining)
		VALUES ($1, $2, $3, 0, 0)
		ON CONFLICT (client_id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, subQuery, c.ID, DefaultPlan, DefaultSubscriptionStatus); err != nil {
		return nil, fmt.Errorf("clients: insert default subscription: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("clients: commit create: %w", err)
	}
	return c, nil
}

// Update rewrites the mutable profile fields.
func (r *Repository) Update(ctx context.Context, c *Client) error {
	query := `
		UPDATE clients
		SET name = $2, company = $3, phone = $4, alt_phone = $5,
			phone_digits = NULLIF($6, ''), alt_phone_digits = NULLIF($7, ''),
			email = $8, external_id = NULLIF($9, ''),
			outstanding_balance_cents = $10, updated_at = now()
		WHERE id = $1
	`
	ct, err := r.pool.Exec(ctx, query,
		c.ID, c.Name, c.Company, c.Phone, c.AltPhone,
		NormalizePhone(c.Phone), NormalizePhone(c.AltPhone),
		c.Email, c.ExternalAccountingID, c.OutstandingBalanceCents,
	)
	if err != nil {
		return fmt.Errorf("clients: update: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrClientNotFound
	}
	return nil
}

// StampSynced records the moment the accounting sync last touched a client.
func (r *Repository) StampSynced(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE clients SET last_synced_at = $2, updated_at = now() WHERE id = $1`
	if _, err := r.pool.Exec(ctx, query, id, at); err != nil {
		return fmt.Errorf("clients: stamp synced: %w", err)
	}
	return nil
}

// SetLastContact updates the denormalized last-contact columns.
func (r *Repository) SetLastContact(ctx context.Context, id uuid.UUID, at time.Time, contactType string) error {
	query := `
		UPDATE clients
		SET last_contact_at = $2, last_contact_type = $3, updated_at = now()
		WHERE id = $1
	`
	if _, err := r.pool.Exec(ctx, query, id, at, contactType); err != nil {
		return fmt.Errorf("clients: set last contact: %w", err)
	}
	return nil
}

// SetOutstandingBalance overwrites the balance mirrored from invoice sync.
func (r *Repository) SetOutstandingBalance(ctx context.Context, id uuid.UUID, cents int64) error {
	query := `UPDATE clients SET outstanding_balance_cents = $2, updated_at = now() WHERE id = $1`
	if _, err := r.pool.Exec(ctx, query, id, cents); err != nil {
		return fmt.Errorf("clients: set outstanding balance: %w", err)
	}
	return nil
}

// SetLifetimeValue overwrites the payment-derived total. Callers recompute the
// full sum rather than accumulating increments, so the value self-heals.
func (r *Repository) SetLifetimeValue(ctx context.Context, id uuid.UUID, cents int64) error {
	query := `UPDATE clients SET lifetime_value_cents = $2, updated_at = now() WHERE id = $1`
	if _, err := r.pool.Exec(ctx, query, id, cents); err != nil {
		return fmt.Errorf("clients: set lifetime value: %w", err)
	}
	return nil
}

// GetSubscription returns the client's plan state. A missing row is reported
// as ErrClientNotFound; callers treat that client as a non-subscriber.
func (r *Repository) GetSubscription(ctx context.Context, clientID uuid.UUID) (*Subscription, error) {
	query := `
		SELECT client_id, plan, status, hours_used, hours_remaining, updated_at
		FROM subscriptions
		WHERE client_id = $1
	`
	var s Subscription
	err := r.pool.QueryRow(ctx, query, clientID).Scan(
		&s.ClientID, &s.Plan, &s.Status, &s.HoursUsed, &s.HoursRemaining, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("clients: get subscription: %w", err)
	}
	return &s, nil
}
