package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harborline/crm-platform/internal/accounting"
	"github.com/harborline/crm-platform/internal/clients"
	"github.com/harborline/crm-platform/internal/finance"
	"github.com/harborline/crm-platform/pkg/logging"
)

type accountingAPI interface {
	GetCustomer(ctx context.Context, id string) (*accounting.Customer, error)
	GetInvoice(ctx context.Context, id string) (*accounting.Invoice, error)
	GetPayment(ctx context.Context, id string) (*accounting.Payment, error)
}

type clientRepo interface {
	GetByExternalID(ctx context.Context, externalID string) (*clients.Client, error)
	FindByPhone(ctx context.Context, phone string) (*clients.Client, error)
	Create(ctx context.Context, c *clients.Client) (*clients.Client, error)
	Update(ctx context.Context, c *clients.Client) error
	StampSynced(ctx context.Context, id uuid.UUID, at time.Time) error
	SetOutstandingBalance(ctx context.Context, id uuid.UUID, cents int64) error
	SetLifetimeValue(ctx context.Context, id uuid.UUID, cents int64) error
}

type financeStore interface {
	UpsertInvoice(ctx context.Context, inv *finance.Invoice) (*finance.Invoice, error)
	GetInvoiceByExternalID(ctx context.Context, externalID string) (*finance.Invoice, error)
	SumUnpaidByClient(ctx context.Context, clientID uuid.UUID) (int64, error)
	UpsertPayment(ctx context.Context, p *finance.Payment) (*finance.Payment, error)
	SumPaymentsByClient(ctx context.Context, clientID uuid.UUID) (int64, error)
}

// Engine matches provider entities to internal records and upserts them.
// Every operation is idempotent: replaying a webhook or re-running a sync
// converges on the same rows.
type Engine struct {
	api     accountingAPI
	clients clientRepo
	store   financeStore
	logger  *logging.Logger
	now     func() time.Time
}

func NewEngine(api accountingAPI, clientRepo clientRepo, store financeStore, logger *logging.Logger) *Engine {
	if clientRepo == nil {
		panic("reconcile: client repository required")
	}
	if store == nil {
		panic("reconcile: finance store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{api: api, clients: clientRepo, store: store, logger: logger, now: time.Now}
}

// ReconcileCustomer fetches the provider customer and applies it.
func (e *Engine) ReconcileCustomer(ctx context.Context, externalID string) error {
	cust, err := e.api.GetCustomer(ctx, externalID)
	if err != nil {
		return fmt.Errorf("reconcile: fetch customer %s: %w", externalID, err)
	}
	_, err = e.ApplyCustomer(ctx, *cust)
	return err
}

// ApplyCustomer matches an external customer to an internal client by
// external ID first, then by normalized phone, and creates one if neither
// matches. The phone fallback links records the two systems created
// independently before any ID association existed.
func (e *Engine) ApplyCustomer(ctx context.Context, cust accounting.Customer) (*clients.Client, error) {
	if cust.ID == "" {
		return nil, errors.New("reconcile: customer record missing id")
	}

	client, err := e.clients.GetByExternalID(ctx, cust.ID)
	if errors.Is(err, clients.ErrClientNotFound) {
		client, err = e.findByAnyPhone(ctx, cust.PrimaryPhone, cust.MobilePhone)
	}
	if err != nil && !errors.Is(err, clients.ErrClientNotFound) {
		return nil, fmt.Errorf("reconcile: match customer %s: %w", cust.ID, err)
	}

	if client == nil {
		created, err := e.clients.Create(ctx, &clients.Client{
			Name:                    customerName(cust),
			Company:                 cust.CompanyName,
			Phone:                   cust.PrimaryPhone,
			AltPhone:                cust.MobilePhone,
			Email:                   cust.Email,
			ExternalAccountingID:    cust.ID,
			OutstandingBalanceCents: accounting.ToCents(cust.Balance),
		})
		if err != nil {
			return nil, fmt.Errorf("reconcile: create client for customer %s: %w", cust.ID, err)
		}
		client = created
	} else {
		client.Name = customerName(cust)
		client.Company = cust.CompanyName
		if cust.PrimaryPhone != "" {
			client.Phone = cust.PrimaryPhone
		}
		if cust.MobilePhone != "" {
			client.AltPhone = cust.MobilePhone
		}
		if cust.Email != "" {
			client.Email = cust.Email
		}
		client.ExternalAccountingID = cust.ID
		client.OutstandingBalanceCents = accounting.ToCents(cust.Balance)
		if err := e.clients.Update(ctx, client); err != nil {
			return nil, fmt.Errorf("reconcile: update client for customer %s: %w", cust.ID, err)
		}
	}

	if err := e.clients.StampSynced(ctx, client.ID, e.now()); err != nil {
		// Bookkeeping column only; the profile itself already landed.
		e.logger.Error("sync stamp failed", "error", err, "client_id", client.ID)
	}
	return client, nil
}

// ReconcileInvoice fetches the provider invoice and applies it.
func (e *Engine) ReconcileInvoice(ctx context.Context, externalID string) error {
	inv, err := e.api.GetInvoice(ctx, externalID)
	if err != nil {
		return fmt.Errorf("reconcile: fetch invoice %s: %w", externalID, err)
	}
	return e.ApplyInvoice(ctx, *inv)
}

// ApplyInvoice upserts the invoice mirror. An invoice for a customer we have
// never seen triggers customer reconciliation first; if that fails no invoice
// row is written, since financial records never point at a fabricated client.
func (e *Engine) ApplyInvoice(ctx context.Context, inv accounting.Invoice) error {
	if inv.ID == "" || inv.CustomerID == "" {
		return errors.New("reconcile: invoice record missing id or customer id")
	}

	client, err := e.resolveClient(ctx, inv.CustomerID)
	if err != nil {
		return fmt.Errorf("reconcile: invoice %s: %w", inv.ID, err)
	}

	if _, err := e.store.UpsertInvoice(ctx, &finance.Invoice{
		ClientID:     client.ID,
		ExternalID:   inv.ID,
		TotalCents:   accounting.ToCents(inv.TotalAmount),
		BalanceCents: accounting.ToCents(inv.Balance),
		TxnDate:      inv.TxnDate,
		DueDate:      inv.DueDate,
	}); err != nil {
		return err
	}

	unpaid, err := e.store.SumUnpaidByClient(ctx, client.ID)
	if err != nil {
		return fmt.Errorf("reconcile: invoice %s: %w", inv.ID, err)
	}
	if err := e.clients.SetOutstandingBalance(ctx, client.ID, unpaid); err != nil {
		return fmt.Errorf("reconcile: invoice %s: %w", inv.ID, err)
	}
	return nil
}

// ReconcilePayment fetches the provider payment and applies it.
func (e *Engine) ReconcilePayment(ctx context.Context, externalID string) error {
	p, err := e.api.GetPayment(ctx, externalID)
	if err != nil {
		return fmt.Errorf("reconcile: fetch payment %s: %w", externalID, err)
	}
	return e.ApplyPayment(ctx, *p)
}

// ApplyPayment upserts the payment mirror and recomputes the client's
// lifetime value as the full sum over stored payments, so the derived total
// self-corrects after replays or reordering. A payment for an unknown
// customer is skipped outright: unlike invoices, a payment must never cause a
// client to be fabricated.
func (e *Engine) ApplyPayment(ctx context.Context, p accounting.Payment) error {
	if p.ID == "" {
		return errors.New("reconcile: payment record missing id")
	}

	client, err := e.clients.GetByExternalID(ctx, p.CustomerID)
	if errors.Is(err, clients.ErrClientNotFound) {
		e.logger.Warn("payment references unknown customer, skipping",
			"payment_id", p.ID, "customer_id", p.CustomerID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reconcile: payment %s: %w", p.ID, err)
	}

	linked := p.LinkedInvoiceIDs()
	for _, invoiceID := range linked {
		if _, err := e.store.GetInvoiceByExternalID(ctx, invoiceID); err == nil {
			continue
		} else if !errors.Is(err, finance.ErrInvoiceNotFound) {
			return fmt.Errorf("reconcile: payment %s: %w", p.ID, err)
		}
		// The payment settles an invoice we have not mirrored yet; pull it so
		// the balance side effects land too. A failure here does not block the
		// payment itself.
		if e.api == nil {
			continue
		}
		if err := e.ReconcileInvoice(ctx, invoiceID); err != nil {
			e.logger.Warn("linked invoice reconciliation failed",
				"error", err, "payment_id", p.ID, "invoice_id", invoiceID)
		}
	}

	if _, err := e.store.UpsertPayment(ctx, &finance.Payment{
		ClientID:           client.ID,
		ExternalID:         p.ID,
		TotalCents:         accounting.ToCents(p.TotalAmount),
		TxnDate:            p.TxnDate,
		InvoiceExternalIDs: linked,
	}); err != nil {
		return err
	}

	lifetime, err := e.store.SumPaymentsByClient(ctx, client.ID)
	if err != nil {
		return fmt.Errorf("reconcile: payment %s: %w", p.ID, err)
	}
	if err := e.clients.SetLifetimeValue(ctx, client.ID, lifetime); err != nil {
		return fmt.Errorf("reconcile: payment %s: %w", p.ID, err)
	}
	return nil
}

// resolveClient returns the client linked to an external customer ID,
// reconciling the customer first when no link exists yet.
func (e *Engine) resolveClient(ctx context.Context, customerID string) (*clients.Client, error) {
	client, err := e.clients.GetByExternalID(ctx, customerID)
	if err == nil {
		return client, nil
	}
	if !errors.Is(err, clients.ErrClientNotFound) {
		return nil, err
	}
	if e.api == nil {
		return nil, fmt.Errorf("reconcile: unknown customer %s and no provider api to fetch it", customerID)
	}
	if err := e.ReconcileCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	return e.clients.GetByExternalID(ctx, customerID)
}

func (e *Engine) findByAnyPhone(ctx context.Context, phones ...string) (*clients.Client, error) {
	for _, phone := range phones {
		if clients.NormalizePhone(phone) == "" {
			continue
		}
		client, err := e.clients.FindByPhone(ctx, phone)
		if err == nil {
			return client, nil
		}
		if !errors.Is(err, clients.ErrClientNotFound) {
			return nil, err
		}
	}
	return nil, clients.ErrClientNotFound
}

func customerName(cust accounting.Customer) string {
	if cust.DisplayName != "" {
		return cust.DisplayName
	}
	if cust.CompanyName != "" {
		return cust.CompanyName
	}
	return "Customer " + cust.ID
}
