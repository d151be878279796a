package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentOutcome string

const (
	PaymentOutcomePending   PaymentOutcome = "pending"
	PaymentOutcomeSucceeded PaymentOutcome = "succeeded"
	PaymentOutcomeFailed    PaymentOutcome = "failed"
)

func (o PaymentOutcome) IsValid() bool {
	switch o {
	case PaymentOutcomePending, PaymentOutcomeSucceeded, PaymentOutcomeFailed:
		return true
	}
	return false
}

type Payment struct {
	ID          uuid.UUID
	BookingID   uuid.UUID
	ExternalRef string
	Amount      decimal.Decimal
	Currency    Currency
	Outcome     PaymentOutcome
	RecordedAt  time.Time
}

type ArtifactStatus string

const (
	ArtifactStatusPending ArtifactStatus = "pending"
	ArtifactStatusReady   ArtifactStatus = "ready"
	ArtifactStatusFailed  ArtifactStatus = "failed"
)

type Invoice struct {
	ID             uuid.UUID
	BookingID      uuid.UUID
	PaymentID      uuid.UUID
	Subtotal       decimal.Decimal
	FeeAmount      decimal.Decimal
	TotalAmount    decimal.Decimal
	Currency       Currency
	IssuedAt       time.Time
	ArtifactRef    *string
	ArtifactStatus ArtifactStatus
	RenderAttempts int
	UpdatedAt      time.Time
}
