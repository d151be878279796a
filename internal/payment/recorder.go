package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/servicehub/internal/booking"
	"github.com/josh-kwaku/servicehub/internal/domain"
	"github.com/josh-kwaku/servicehub/internal/logging"
	"github.com/josh-kwaku/servicehub/internal/metrics"
	"github.com/josh-kwaku/servicehub/internal/pricing"
	"github.com/josh-kwaku/servicehub/internal/repository"
)

type bookingLocker interface {
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Booking, error)
}

type paymentStore interface {
	Create(ctx context.Context, tx *sql.Tx, p *domain.Payment) error
	GetByExternalRef(ctx context.Context, q repository.Querier, ref string) (*domain.Payment, error)
}

type invoiceReader interface {
	GetByBookingID(ctx context.Context, q repository.Querier, bookingID uuid.UUID) (*domain.Invoice, error)
}

type transitioner interface {
	ApplyInTx(ctx context.Context, tx *sql.Tx, b *domain.Booking, actor domain.Actor, t booking.Transition) (*domain.Booking, error)
}

type invoiceIssuer interface {
	Issue(ctx context.Context, q repository.Querier, b *domain.Booking, p *domain.Payment) (*domain.Invoice, bool, error)
	Schedule(inv *domain.Invoice)
}

type publisher interface {
	Publish(ctx context.Context, event domain.NotificationEvent)
}

type RecordRequest struct {
	BookingID   uuid.UUID
	ExternalRef string
	Amount      decimal.Decimal
	Currency    domain.Currency
	Outcome     domain.PaymentOutcome
}

type Result struct {
	PaymentID     uuid.UUID
	InvoiceID     *uuid.UUID
	BookingStatus domain.BookingStatus
	Replayed      bool
}

type Recorder struct {
	db        *sql.DB
	bookings  bookingLocker
	payments  paymentStore
	invoices  invoiceReader
	machine   transitioner
	issuer    invoiceIssuer
	bus       publisher
	tolerance decimal.Decimal
	now       func() time.Time
}

func NewRecorder(
	db *sql.DB,
	bookings bookingLocker,
	payments paymentStore,
	invoices invoiceReader,
	machine transitioner,
	issuer invoiceIssuer,
	bus publisher,
	tolerance decimal.Decimal,
) *Recorder {
	return &Recorder{
		db:        db,
		bookings:  bookings,
		payments:  payments,
		invoices:  invoices,
		machine:   machine,
		issuer:    issuer,
		bus:       bus,
		tolerance: tolerance,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Record stores one gateway outcome for a booking. A succeeded outcome moves
// the booking to paid and issues its invoice in the same transaction.
// Redelivery of an already recorded externalRef returns the original result.
func (r *Recorder) Record(ctx context.Context, req RecordRequest) (*Result, error) {
	log := logging.FromContext(ctx)

	if err := validateRequest(req); err != nil {
		metrics.RecordPayment(string(req.Outcome), "invalid")
		return nil, fmt.Errorf("Record: %w", err)
	}

	var (
		result   Result
		paid     *domain.Booking
		previous domain.BookingStatus
		inv      *domain.Invoice
	)

	err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		b, err := r.bookings.GetForUpdate(ctx, tx, req.BookingID)
		if err != nil {
			return err
		}

		existing, err := r.payments.GetByExternalRef(ctx, tx, req.ExternalRef)
		switch {
		case err == nil:
			return r.replay(ctx, tx, req, existing, b, &result, &inv)
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		if err := r.checkEligible(b, req); err != nil {
			return err
		}

		p := &domain.Payment{
			ID:          uuid.New(),
			BookingID:   b.ID,
			ExternalRef: req.ExternalRef,
			Amount:      req.Amount,
			Currency:    req.Currency,
			Outcome:     req.Outcome,
			RecordedAt:  r.now(),
		}
		if err := r.payments.Create(ctx, tx, p); err != nil {
			if repository.IsDuplicateKey(err) {
				return fmt.Errorf("%v: %w", err, domain.ErrDuplicatePayment)
			}
			return err
		}
		result.PaymentID = p.ID
		result.BookingStatus = b.Status

		if p.Outcome != domain.PaymentOutcomeSucceeded {
			return nil
		}

		previous = b.Status
		paid, err = r.machine.ApplyInTx(ctx, tx, b, domain.SystemActor, booking.TransitionPay)
		if err != nil {
			return err
		}
		result.BookingStatus = paid.Status

		inv, _, err = r.issuer.Issue(ctx, tx, paid, p)
		if err != nil {
			return err
		}
		result.InvoiceID = &inv.ID
		return nil
	})
	if err != nil {
		metrics.RecordPayment(string(req.Outcome), resultLabel(err))
		log.Warn("payment not recorded",
			"booking_id", req.BookingID,
			"external_ref", req.ExternalRef,
			"outcome", req.Outcome,
			"error", err,
		)
		return nil, fmt.Errorf("Record: %w", err)
	}

	if result.Replayed {
		metrics.RecordPayment(string(req.Outcome), "replayed")
		log.Info("payment callback replayed",
			"booking_id", req.BookingID,
			"external_ref", req.ExternalRef,
			"payment_id", result.PaymentID,
		)
		if inv != nil {
			r.issuer.Schedule(inv)
		}
		return &result, nil
	}

	metrics.RecordPayment(string(req.Outcome), "recorded")
	log.Info("payment recorded",
		"booking_id", req.BookingID,
		"payment_id", result.PaymentID,
		"external_ref", req.ExternalRef,
		"amount", req.Amount.StringFixed(2),
		"currency", req.Currency,
		"outcome", req.Outcome,
	)

	if paid != nil {
		log.Info("booking transition applied",
			"booking_id", paid.ID,
			"transition", booking.TransitionPay,
			"from", previous,
			"to", paid.Status,
			"version", paid.Version,
		)
		r.bus.Publish(ctx, domain.NewBookingEvent(paid, string(booking.TransitionPay), previous, domain.SystemActor.ID))
		r.issuer.Schedule(inv)
	}
	return &result, nil
}

// replay resolves a redelivered externalRef. Only an exact repeat of the
// stored outcome for the same booking is accepted.
func (r *Recorder) replay(ctx context.Context, tx *sql.Tx, req RecordRequest, existing *domain.Payment, b *domain.Booking, result *Result, inv **domain.Invoice) error {
	if existing.BookingID != req.BookingID || existing.Outcome != req.Outcome {
		return fmt.Errorf("external ref %s already recorded as %s for booking %s: %w",
			req.ExternalRef, existing.Outcome, existing.BookingID, domain.ErrDuplicatePayment)
	}

	result.PaymentID = existing.ID
	result.BookingStatus = b.Status
	result.Replayed = true

	if existing.Outcome != domain.PaymentOutcomeSucceeded {
		return nil
	}
	found, err := r.invoices.GetByBookingID(ctx, tx, b.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	result.InvoiceID = &found.ID
	*inv = found
	return nil
}

func (r *Recorder) checkEligible(b *domain.Booking, req RecordRequest) error {
	if b.Status != domain.BookingStatusPaymentPending {
		return fmt.Errorf("booking is %s: %w", b.Status, domain.ErrBookingNotEligible)
	}
	if req.Currency != b.Currency {
		return fmt.Errorf("paid %s, booked %s: %w", req.Currency, b.Currency, domain.ErrCurrencyMismatch)
	}
	if !pricing.WithinTolerance(req.Amount, b.Price, r.tolerance) {
		return fmt.Errorf("paid %s, price %s: %w",
			req.Amount.StringFixed(2), b.Price.StringFixed(2), domain.ErrAmountMismatch)
	}
	return nil
}

func validateRequest(req RecordRequest) error {
	if req.BookingID == uuid.Nil {
		return fmt.Errorf("missing booking id: %w", domain.ErrInvalidRequest)
	}
	if strings.TrimSpace(req.ExternalRef) == "" {
		return fmt.Errorf("missing external ref: %w", domain.ErrInvalidRequest)
	}
	if len(req.ExternalRef) > 255 {
		return fmt.Errorf("external ref too long: %w", domain.ErrInvalidRequest)
	}
	if !req.Outcome.IsValid() {
		return fmt.Errorf("unknown outcome %q: %w", req.Outcome, domain.ErrInvalidRequest)
	}
	if !req.Currency.IsValid() {
		return fmt.Errorf("unsupported currency %q: %w", req.Currency, domain.ErrInvalidRequest)
	}
	if !req.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive: %w", domain.ErrInvalidRequest)
	}
	return nil
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrDuplicatePayment):
		return "duplicate"
	case errors.Is(err, domain.ErrBookingNotEligible):
		return "not_eligible"
	case errors.Is(err, domain.ErrAmountMismatch), errors.Is(err, domain.ErrCurrencyMismatch):
		return "mismatch"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
