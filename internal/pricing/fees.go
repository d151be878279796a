package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/servicehub/internal/domain"
)

// minor units kept on every stored amount
const scale = 2

type Breakdown struct {
	Subtotal decimal.Decimal
	Fee      decimal.Decimal
	Total    decimal.Decimal
}

// FeeSchedule adds a flat amount plus a percentage of the subtotal to every
// invoice. The zero value charges nothing.
type FeeSchedule struct {
	flat decimal.Decimal
	pct  decimal.Decimal
}

func NewFeeSchedule(flat, pct decimal.Decimal) (*FeeSchedule, error) {
	if flat.IsNegative() || pct.IsNegative() {
		return nil, fmt.Errorf("NewFeeSchedule: negative fee: %w", domain.ErrInvalidRequest)
	}
	if pct.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("NewFeeSchedule: percentage %s must be below 1: %w", pct, domain.ErrInvalidRequest)
	}
	return &FeeSchedule{flat: flat, pct: pct}, nil
}

// Quote derives invoice totals from a booking's snapshotted price.
func (s *FeeSchedule) Quote(subtotal decimal.Decimal) Breakdown {
	subtotal = subtotal.Round(scale)
	fee := s.flat.Add(subtotal.Mul(s.pct)).Round(scale)
	return Breakdown{
		Subtotal: subtotal,
		Fee:      fee,
		Total:    subtotal.Add(fee),
	}
}

// WithinTolerance reports whether |amount - expected| <= tolerance.
func WithinTolerance(amount, expected, tolerance decimal.Decimal) bool {
	return amount.Sub(expected).Abs().LessThanOrEqual(tolerance)
}
