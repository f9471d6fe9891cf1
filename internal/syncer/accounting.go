package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harborline/crm-platform/internal/accounting"
	"github.com/harborline/crm-platform/internal/clients"
	"github.com/harborline/crm-platform/internal/observability/metrics"
	"github.com/harborline/crm-platform/pkg/logging"
)

var syncTracer = otel.Tracer("crm.internal.syncer")

// PhaseResult counts per-record outcomes inside one sync phase.
type PhaseResult struct {
	Synced int      `json:"synced"`
	Errors int      `json:"errors"`
	Failed []string `json:"failed,omitempty"`
}

// AccountingSummary is the sync-trigger response body for an accounting run.
type AccountingSummary struct {
	Success   bool        `json:"success"`
	Customers PhaseResult `json:"customers"`
	Invoices  PhaseResult `json:"invoices"`
	Payments  PhaseResult `json:"payments"`
	Timestamp time.Time   `json:"timestamp"`
}

type accountingQuerier interface {
	QueryCustomers(ctx context.Context, startPosition, maxResults int) ([]accounting.Customer, error)
	QueryInvoices(ctx context.Context, startPosition, maxResults int) ([]accounting.Invoice, error)
	QueryPayments(ctx context.Context, startPosition, maxResults int) ([]accounting.Payment, error)
}

// AccountingSync pulls the provider's full dataset and reconciles it in
// dependency order: customers, then invoices, then payments. Individual
// record failures are collected; a phase aborts only when the provider
// itself is unreachable.
type AccountingSync struct {
	api      accountingQuerier
	engine   accountingEngine
	pageSize int
	logger   *logging.Logger
	metrics  *metrics.SyncMetrics
	now      func() time.Time
}

type accountingEngine interface {
	ApplyCustomer(ctx context.Context, cust accounting.Customer) (*clients.Client, error)
	ApplyInvoice(ctx context.Context, inv accounting.Invoice) error
	ApplyPayment(ctx context.Context, p accounting.Payment) error
}

func NewAccountingSync(api accountingQuerier, eng accountingEngine, pageSize int, logger *logging.Logger, m *metrics.SyncMetrics) *AccountingSync {
	if api == nil {
		panic("syncer: accounting api required")
	}
	if eng == nil {
		panic("syncer: reconcile engine required")
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AccountingSync{api: api, engine: eng, pageSize: pageSize, logger: logger, metrics: m, now: time.Now}
}

// Run executes the three phases in order. Each phase completes, collecting
// its own per-record errors, before the next starts.
func (s *AccountingSync) Run(ctx context.Context) (*AccountingSummary, error) {
	ctx, span := syncTracer.Start(ctx, "syncer.accounting.run")
	defer span.End()

	summary := &AccountingSummary{Success: true}

	customers, err := s.runPhase(ctx, "customers", s.syncCustomers)
	if err != nil {
		return nil, err
	}
	summary.Customers = customers

	invoices, err := s.runPhase(ctx, "invoices", s.syncInvoices)
	if err != nil {
		return nil, err
	}
	summary.Invoices = invoices

	payments, err := s.runPhase(ctx, "payments", s.syncPayments)
	if err != nil {
		return nil, err
	}
	summary.Payments = payments

	summary.Success = customers.Errors == 0 && invoices.Errors == 0 && payments.Errors == 0
	summary.Timestamp = s.now().UTC()
	span.SetAttributes(
		attribute.Bool("sync.success", summary.Success),
		attribute.Int("sync.customers.synced", customers.Synced),
		attribute.Int("sync.invoices.synced", invoices.Synced),
		attribute.Int("sync.payments.synced", payments.Synced),
	)
	return summary, nil
}

func (s *AccountingSync) runPhase(ctx context.Context, phase string, fn func(ctx context.Context) (PhaseResult, error)) (PhaseResult, error) {
	start := s.now()
	result, err := fn(ctx)
	s.metrics.ObservePhase(phase, s.now().Sub(start).Seconds())
	if err != nil {
		return PhaseResult{}, fmt.Errorf("syncer: %s phase: %w", phase, err)
	}
	s.logger.Info("sync phase complete",
		"phase", phase, "synced", result.Synced, "errors", result.Errors)
	return result, nil
}

func (s *AccountingSync) syncCustomers(ctx context.Context) (PhaseResult, error) {
	var result PhaseResult
	for pos := 1; ; pos += s.pageSize {
		batch, err := s.api.QueryCustomers(ctx, pos, s.pageSize)
		if err != nil {
			return result, err
		}
		for _, cust := range batch {
			if _, err := s.engine.ApplyCustomer(ctx, cust); err != nil {
				s.recordFailure(&result, "customers", cust.ID, err)
				continue
			}
			result.Synced++
			s.metrics.ObserveRecord("customers", "synced")
		}
		if len(batch) < s.pageSize {
			return result, nil
		}
	}
}

func (s *AccountingSync) syncInvoices(ctx context.Context) (PhaseResult, error) {
	var result PhaseResult
	for pos := 1; ; pos += s.pageSize {
		batch, err := s.api.QueryInvoices(ctx, pos, s.pageSize)
		if err != nil {
			return result, err
		}
		for _, inv := range batch {
			if err := s.engine.ApplyInvoice(ctx, inv); err != nil {
				s.recordFailure(&result, "invoices", inv.ID, err)
				continue
			}
			result.Synced++
			s.metrics.ObserveRecord("invoices", "synced")
		}
		if len(batch) < s.pageSize {
			return result, nil
		}
	}
}

func (s *AccountingSync) syncPayments(ctx context.Context) (PhaseResult, error) {
	var result PhaseResult
	for pos := 1; ; pos += s.pageSize {
		batch, err := s.api.QueryPayments(ctx, pos, s.pageSize)
		if err != nil {
			return result, err
		}
		for _, p := range batch {
			if err := s.engine.ApplyPayment(ctx, p); err != nil {
				s.recordFailure(&result, "payments", p.ID, err)
				continue
			}
			result.Synced++
			s.metrics.ObserveRecord("payments", "synced")
		}
		if len(batch) < s.pageSize {
			return result, nil
		}
	}
}

func (s *AccountingSync) recordFailure(result *PhaseResult, phase, id string, err error) {
	result.Errors++
	result.Failed = append(result.Failed, id)
	s.metrics.ObserveRecord(phase, "error")
	s.logger.Error("sync record failed", "phase", phase, "id", id, "error", err)
}

// Fatal reports whether an error should abort the whole sync invocation
// rather than being swallowed into a phase's error list.
func Fatal(err error) bool {
	var upstream *accounting.UpstreamError
	return errors.Is(err, accounting.ErrConfigMissing) ||
		errors.Is(err, accounting.ErrNotConnected) ||
		errors.As(err, &upstream)
}
