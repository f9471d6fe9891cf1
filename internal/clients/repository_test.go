package clients

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestGetByExternalIDNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := NewRepository(mock)
	mock.ExpectQuery("SELECT(.|\n)+FROM clients WHERE external_id").
		WithArgs("QB-404").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err = repo.GetByExternalID(context.Background(), "QB-404")
	if err != ErrClientNotFound {
		t.Fatalf("expected ErrClientNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindByPhoneNormalizesBeforeQuery(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := NewRepository(mock)
	now := time.Now()
	id := uuid.New()
	rows := pgxmock.NewRows([]string{
		"id", "name", "company", "phone", "alt_phone", "email",
		"external_id", "outstanding_balance_cents", "lifetime_value_cents",
		"tags", "last_contact_at", "last_contact_type", "last_synced_at",
		"created_at", "updated_at",
	}).AddRow(
		id, "Jane", "", "(555) 123-4567", "", "jane@example.com",
		"", int64(0), int64(0),
		[]string{}, nil, "", nil,
		now, now,
	)
	mock.ExpectQuery("phone_digits = \\$1 OR alt_phone_digits = \\$1").
		WithArgs("5551234567").
		WillReturnRows(rows)

	got, err := repo.FindByPhone(context.Background(), "(555) 123-4567")
	if err != nil {
		t.Fatalf("find by phone: %v", err)
	}
	if got.ID != id {
		t.Fatalf("expected client %s, got %s", id, got.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindByPhoneEmptyDigits(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := NewRepository(mock)
	if _, err := repo.FindByPhone(context.Background(), "()- "); err != ErrClientNotFound {
		t.Fatalf("expected ErrClientNotFound for unparseable phone, got %v", err)
	}
}

func TestCreateFallsBackToExistingRowOnConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := NewRepository(mock)
	now := time.Now()
	existingID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO clients").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}))
	existing := pgxmock.NewRows([]string{
		"id", "name", "company", "phone", "alt_phone", "email",
		"external_id", "outstanding_balance_cents", "lifetime_value_cents",
		"tags", "last_contact_at", "last_contact_type", "last_synced_at",
		"created_at", "updated_at",
	}).AddRow(
		existingID, "Customer 5551230000", "", "5551230000", "", "5551230000@placeholder.com",
		"", int64(0), int64(0),
		[]string{}, nil, "", nil,
		now, now,
	)
	mock.ExpectQuery("phone_digits = \\$1 OR alt_phone_digits = \\$1").
		WithArgs("5551230000").
		WillReturnRows(existing)
	mock.ExpectRollback()

	got, err := repo.Create(context.Background(), &Client{Name: "Customer 5551230000", Phone: "5551230000"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got.ID != existingID {
		t.Fatalf("expected existing row to win, got %s", got.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
