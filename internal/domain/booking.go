package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
)

func (c Currency) IsValid() bool {
	switch c {
	case CurrencyUSD, CurrencyEUR, CurrencyGBP:
		return true
	}
	return false
}

type BookingStatus string

const (
	BookingStatusRequested      BookingStatus = "requested"
	BookingStatusAccepted       BookingStatus = "accepted"
	BookingStatusRejected       BookingStatus = "rejected"
	BookingStatusInProgress     BookingStatus = "in_progress"
	BookingStatusCompleted      BookingStatus = "completed"
	BookingStatusPaymentPending BookingStatus = "payment_pending"
	BookingStatusPaid           BookingStatus = "paid"
	BookingStatusCancelled      BookingStatus = "cancelled"
)

func (s BookingStatus) IsTerminal() bool {
	switch s {
	case BookingStatusRejected, BookingStatusCancelled, BookingStatusPaid:
		return true
	}
	return false
}

type Role string

const (
	RoleCustomer Role = "customer"
	RoleProvider Role = "provider"
	RoleSystem   Role = "system"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleCustomer, RoleProvider, RoleSystem:
		return true
	}
	return false
}

// Actor is the identity performing an operation, as resolved by the identity layer.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// SystemActor drives transitions that no customer or provider may request directly.
var SystemActor = Actor{ID: uuid.Nil, Role: RoleSystem}

type Booking struct {
	ID            uuid.UUID
	ServiceID     uuid.UUID
	CustomerID    uuid.UUID
	ProviderID    uuid.UUID
	Status        BookingStatus
	Price         decimal.Decimal
	Currency      Currency
	ScheduledTime time.Time
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsParticipant reports whether the user is the booking's customer or provider.
func (b *Booking) IsParticipant(userID uuid.UUID) bool {
	return userID == b.CustomerID || userID == b.ProviderID
}

// Service is the catalog snapshot consulted once, at booking creation.
type Service struct {
	ID         uuid.UUID
	ProviderID uuid.UUID
	Name       string
	Price      decimal.Decimal
	Currency   Currency
	Active     bool
}
