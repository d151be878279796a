package testutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/servicehub/internal/domain"
)

func SeedService(t *testing.T, db *sql.DB, providerID uuid.UUID, price string, currency domain.Currency) *domain.Service {
	t.Helper()

	s := &domain.Service{
		ID:         uuid.New(),
		ProviderID: providerID,
		Name:       "Home cleaning",
		Price:      decimal.RequireFromString(price),
		Currency:   currency,
		Active:     true,
	}

	_, err := db.Exec(
		`INSERT INTO services (id, provider_id, name, price, currency, active)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.ProviderID, s.Name, s.Price, s.Currency, s.Active,
	)
	if err != nil {
		t.Fatalf("seed service for provider %s: %v", providerID, err)
	}
	return s
}

// SeedBooking inserts a booking directly in the given status, bypassing the
// state machine.
func SeedBooking(t *testing.T, db *sql.DB, svc *domain.Service, customerID uuid.UUID, status domain.BookingStatus) *domain.Booking {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Microsecond)
	b := &domain.Booking{
		ID:            uuid.New(),
		ServiceID:     svc.ID,
		CustomerID:    customerID,
		ProviderID:    svc.ProviderID,
		Status:        status,
		Price:         svc.Price,
		Currency:      svc.Currency,
		ScheduledTime: now.Add(48 * time.Hour),
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err := db.Exec(
		`INSERT INTO bookings (id, service_id, customer_id, provider_id, status, price, currency,
		                       scheduled_time, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		b.ID, b.ServiceID, b.CustomerID, b.ProviderID, b.Status, b.Price, b.Currency,
		b.ScheduledTime, b.Version, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("seed booking %s: %v", status, err)
	}
	return b
}

func SetServicePrice(t *testing.T, db *sql.DB, serviceID uuid.UUID, price string) {
	t.Helper()

	if _, err := db.Exec(`UPDATE services SET price = $1 WHERE id = $2`, price, serviceID); err != nil {
		t.Fatalf("update service price %s: %v", serviceID, err)
	}
}

func CountPayments(t *testing.T, db *sql.DB, bookingID uuid.UUID) int {
	t.Helper()

	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM payments WHERE booking_id = $1`, bookingID).Scan(&count)
	if err != nil {
		t.Fatalf("count payments for booking %s: %v", bookingID, err)
	}
	return count
}

func CountInvoices(t *testing.T, db *sql.DB, bookingID uuid.UUID) int {
	t.Helper()

	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM invoices WHERE booking_id = $1`, bookingID).Scan(&count)
	if err != nil {
		t.Fatalf("count invoices for booking %s: %v", bookingID, err)
	}
	return count
}
