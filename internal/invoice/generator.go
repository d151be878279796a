package invoice

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/servicehub/internal/domain"
	"github.com/josh-kwaku/servicehub/internal/logging"
	"github.com/josh-kwaku/servicehub/internal/pricing"
	"github.com/josh-kwaku/servicehub/internal/repository"
)

type invoiceStore interface {
	CreateIfAbsent(ctx context.Context, q repository.Querier, inv *domain.Invoice) (*domain.Invoice, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Invoice, error)
	GetByBookingID(ctx context.Context, q repository.Querier, bookingID uuid.UUID) (*domain.Invoice, error)
}

type bookingReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
}

type paymentReader interface {
	GetSucceededByBooking(ctx context.Context, q repository.Querier, bookingID uuid.UUID) (*domain.Payment, error)
}

type renderQueue interface {
	Enqueue(invoiceID uuid.UUID) bool
}

type artifactOpener interface {
	Open(ref string) (*os.File, error)
}

type Generator struct {
	invoices  invoiceStore
	bookings  bookingReader
	payments  paymentReader
	artifacts artifactOpener
	fees      *pricing.FeeSchedule
	renders   renderQueue
	db        *sql.DB
	now       func() time.Time
}

func NewGenerator(
	invoices invoiceStore,
	bookings bookingReader,
	payments paymentReader,
	artifacts artifactOpener,
	fees *pricing.FeeSchedule,
	renders renderQueue,
	db *sql.DB,
) *Generator {
	return &Generator{
		invoices:  invoices,
		bookings:  bookings,
		payments:  payments,
		artifacts: artifacts,
		fees:      fees,
		renders:   renders,
		db:        db,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Generate returns the booking's invoice, creating it on first call. Repeated
// and concurrent calls converge on one row.
func (g *Generator) Generate(ctx context.Context, bookingID uuid.UUID) (*domain.Invoice, error) {
	b, err := g.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("Generate: %w", err)
	}
	if b.Status != domain.BookingStatusPaid {
		return nil, fmt.Errorf("Generate: booking is %s: %w", b.Status, domain.ErrBookingNotEligible)
	}

	p, err := g.payments.GetSucceededByBooking(ctx, g.db, b.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("Generate: no succeeded payment: %w", domain.ErrBookingNotEligible)
		}
		return nil, fmt.Errorf("Generate: %w", err)
	}

	inv, _, err := g.Issue(ctx, g.db, b, p)
	if err != nil {
		return nil, fmt.Errorf("Generate: %w", err)
	}
	g.Schedule(inv)
	return inv, nil
}

// Issue writes the invoice for a paid booking through q, which may be the
// caller's transaction. Totals come from the booking's snapshotted price,
// never from the catalog.
func (g *Generator) Issue(ctx context.Context, q repository.Querier, b *domain.Booking, p *domain.Payment) (*domain.Invoice, bool, error) {
	now := g.now()
	totals := g.fees.Quote(b.Price)

	inv := &domain.Invoice{
		ID:             uuid.New(),
		BookingID:      b.ID,
		PaymentID:      p.ID,
		Subtotal:       totals.Subtotal,
		FeeAmount:      totals.Fee,
		TotalAmount:    totals.Total,
		Currency:       b.Currency,
		IssuedAt:       now,
		ArtifactStatus: domain.ArtifactStatusPending,
		UpdatedAt:      now,
	}

	stored, created, err := g.invoices.CreateIfAbsent(ctx, q, inv)
	if err != nil {
		return nil, false, fmt.Errorf("Issue: %w", err)
	}

	if created {
		logging.FromContext(ctx).Info("invoice issued",
			"invoice_id", stored.ID,
			"booking_id", b.ID,
			"payment_id", p.ID,
			"total", stored.TotalAmount.StringFixed(2),
			"currency", stored.Currency,
		)
	}
	return stored, created, nil
}

// Schedule queues artifact rendering for an invoice that still lacks one.
func (g *Generator) Schedule(inv *domain.Invoice) {
	if inv.ArtifactStatus != domain.ArtifactStatusPending {
		return
	}
	g.renders.Enqueue(inv.ID)
}

// Get returns an invoice to a participant of its booking. Everyone else sees
// NotFound.
func (g *Generator) Get(ctx context.Context, actor domain.Actor, invoiceID uuid.UUID) (*domain.Invoice, error) {
	inv, err := g.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	if err := g.authorize(ctx, actor, inv.BookingID); err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return inv, nil
}

func (g *Generator) GetForBooking(ctx context.Context, actor domain.Actor, bookingID uuid.UUID) (*domain.Invoice, error) {
	if err := g.authorize(ctx, actor, bookingID); err != nil {
		return nil, fmt.Errorf("GetForBooking: %w", err)
	}
	inv, err := g.invoices.GetByBookingID(ctx, g.db, bookingID)
	if err != nil {
		return nil, fmt.Errorf("GetForBooking: %w", err)
	}
	return inv, nil
}

// OpenArtifact opens the rendered document. The caller closes the file.
func (g *Generator) OpenArtifact(ctx context.Context, actor domain.Actor, invoiceID uuid.UUID) (*os.File, *domain.Invoice, error) {
	inv, err := g.Get(ctx, actor, invoiceID)
	if err != nil {
		return nil, nil, fmt.Errorf("OpenArtifact: %w", err)
	}
	if inv.ArtifactStatus != domain.ArtifactStatusReady || inv.ArtifactRef == nil {
		return nil, nil, fmt.Errorf("OpenArtifact: artifact %s: %w", inv.ArtifactStatus, domain.ErrNotFound)
	}
	f, err := g.artifacts.Open(*inv.ArtifactRef)
	if err != nil {
		return nil, nil, fmt.Errorf("OpenArtifact: %w", err)
	}
	return f, inv, nil
}

func (g *Generator) authorize(ctx context.Context, actor domain.Actor, bookingID uuid.UUID) error {
	b, err := g.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return err
	}
	if !b.IsParticipant(actor.ID) {
		return domain.ErrNotFound
	}
	return nil
}
