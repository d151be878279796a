package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/servicehub/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestQuote(t *testing.T) {
	tests := []struct {
		name      string
		flat, pct string
		subtotal  string
		wantFee   string
		wantTotal string
	}{
		{"no fees", "0", "0", "120.00", "0", "120.00"},
		{"flat only", "2.50", "0", "120.00", "2.50", "122.50"},
		{"percentage only", "0", "0.05", "120.00", "6.00", "126.00"},
		{"flat and percentage", "1.00", "0.029", "80.00", "3.32", "83.32"},
		{"percentage rounds to cents", "0", "0.015", "33.33", "0.50", "33.83"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, err := NewFeeSchedule(d(tc.flat), d(tc.pct))
			require.NoError(t, err)

			b := s.Quote(d(tc.subtotal))
			assert.True(t, d(tc.subtotal).Equal(b.Subtotal), "subtotal %s", b.Subtotal)
			assert.True(t, d(tc.wantFee).Equal(b.Fee), "fee %s", b.Fee)
			assert.True(t, d(tc.wantTotal).Equal(b.Total), "total %s", b.Total)
			assert.True(t, b.Subtotal.Add(b.Fee).Equal(b.Total))
		})
	}
}

func TestNewFeeSchedule_Rejects(t *testing.T) {
	_, err := NewFeeSchedule(d("-1"), decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = NewFeeSchedule(decimal.Zero, d("-0.01"))
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = NewFeeSchedule(decimal.Zero, d("1"))
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestWithinTolerance(t *testing.T) {
	tol := d("0.01")
	assert.True(t, WithinTolerance(d("120.00"), d("120.00"), tol))
	assert.True(t, WithinTolerance(d("119.99"), d("120.00"), tol))
	assert.True(t, WithinTolerance(d("120.01"), d("120.00"), tol))
	assert.False(t, WithinTolerance(d("119.98"), d("120.00"), tol))
	assert.False(t, WithinTolerance(d("100.00"), d("120.00"), tol))
	assert.False(t, WithinTolerance(d("120.01"), d("120.00"), decimal.Zero))
}
