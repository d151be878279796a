package invoice

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/servicehub/internal/domain"
)

func TestPDFRenderer_Render(t *testing.T) {
	b := &domain.Booking{
		ID:            uuid.New(),
		ServiceID:     uuid.New(),
		CustomerID:    uuid.New(),
		ProviderID:    uuid.New(),
		Status:        domain.BookingStatusPaid,
		Price:         decimal.RequireFromString("120.00"),
		Currency:      domain.CurrencyGBP,
		ScheduledTime: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	inv := &domain.Invoice{
		ID:          uuid.New(),
		BookingID:   b.ID,
		PaymentID:   uuid.New(),
		Subtotal:    b.Price,
		FeeAmount:   decimal.RequireFromString("2.50"),
		TotalAmount: decimal.RequireFromString("122.50"),
		Currency:    b.Currency,
		IssuedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := NewPDFRenderer("ServiceHub").Render(inv, b)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
	assert.Greater(t, len(data), 500)
}
