package calls

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestInsertReportsConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	clientID := uuid.New()
	call := &Call{CallID: "call-1", ClientID: &clientID, Direction: "inbound", StartedAt: time.Now()}

	mock.ExpectExec("INSERT INTO calls").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	inserted, err := store.Insert(context.Background(), call)
	if err != nil || !inserted {
		t.Fatalf("expected insert, got inserted=%v err=%v", inserted, err)
	}

	mock.ExpectExec("INSERT INTO calls").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	inserted, err = store.Insert(context.Background(), call)
	if err != nil || inserted {
		t.Fatalf("expected conflict no-op, got inserted=%v err=%v", inserted, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSettleCommitsTransitionAndCharge(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	clientID := uuid.New()
	b := ComputeBilling(125, false)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE calls(.|\n)+WHERE call_id = \\$1 AND status IN").
		WithArgs("call-1", StatusCompleted, pgxmock.AnyArg(), 125,
			3, int64(300), int64(900), "", StatusRinging, StatusConnected).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO call_charges").
		WithArgs(pgxmock.AnyArg(), clientID, "call-1", 125, int64(300), int64(900), "pending").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	charge := &Charge{ClientID: clientID, CallID: "call-1", DurationSeconds: 125, RateCents: 300, TotalCents: 900}
	applied, err := store.Settle(context.Background(), Settlement{
		CallID: "call-1", EndedAt: time.Now(), DurationSeconds: 125,
		Billing: b, Charge: charge,
	})
	if err != nil || !applied {
		t.Fatalf("expected settlement to apply, got applied=%v err=%v", applied, err)
	}
	if charge.Status != "pending" {
		t.Fatalf("expected default pending status, got %q", charge.Status)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSettleAlreadyTerminalIsNoop(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	clientID := uuid.New()

	// Zero rows from the guarded transition: no charge insert, no commit.
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE calls(.|\n)+WHERE call_id = \\$1 AND status IN").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	applied, err := store.Settle(context.Background(), Settlement{
		CallID: "call-1", EndedAt: time.Now(), DurationSeconds: 125,
		Billing: ComputeBilling(125, false),
		Charge:  &Charge{ClientID: clientID, CallID: "call-1", RateCents: 300, TotalCents: 900},
	})
	if err != nil || applied {
		t.Fatalf("expected terminal guard, got applied=%v err=%v", applied, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSettleConsumesHoursAtomically(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	clientID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE calls(.|\n)+WHERE call_id = \\$1 AND status IN").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE subscriptions(.|\n)+GREATEST\\(0, hours_remaining - \\$2\\)").
		WithArgs(clientID, 0.05).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	applied, err := store.Settle(context.Background(), Settlement{
		CallID: "call-2", EndedAt: time.Now(), DurationSeconds: 125,
		Billing:       ComputeBilling(125, true),
		UsageClientID: clientID, UsageHours: 0.05,
	})
	if err != nil || !applied {
		t.Fatalf("expected settlement to apply, got applied=%v err=%v", applied, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSettleRollsBackWhenChargeInsertFails(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	clientID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE calls(.|\n)+WHERE call_id = \\$1 AND status IN").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO call_charges").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	applied, err := store.Settle(context.Background(), Settlement{
		CallID: "call-3", EndedAt: time.Now(), DurationSeconds: 125,
		Billing: ComputeBilling(125, false),
		Charge:  &Charge{ClientID: clientID, CallID: "call-3", RateCents: 300, TotalCents: 900},
	})
	if err == nil || applied {
		t.Fatalf("expected settle to fail and roll back, got applied=%v err=%v", applied, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMarkMissedOnlyFromRinging(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	mock.ExpectExec("UPDATE calls").
		WithArgs("call-2", StatusMissed, pgxmock.AnyArg(), StatusRinging).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	applied, err := store.MarkMissed(context.Background(), "call-2", time.Now())
	if err != nil || applied {
		t.Fatalf("expected missed to be rejected off-ringing, got applied=%v err=%v", applied, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

