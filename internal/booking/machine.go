package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/servicehub/internal/domain"
	"github.com/josh-kwaku/servicehub/internal/logging"
	"github.com/josh-kwaku/servicehub/internal/metrics"
)

type bookingStore interface {
	Create(ctx context.Context, b *domain.Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	ListByParticipant(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Booking, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, expectedVersion int64, status domain.BookingStatus, at time.Time) error
	UpdateStatusTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, expectedVersion int64, status domain.BookingStatus, at time.Time) error
}

type catalogReader interface {
	GetService(ctx context.Context, id uuid.UUID) (*domain.Service, error)
}

type publisher interface {
	Publish(ctx context.Context, event domain.NotificationEvent)
}

type Machine struct {
	bookings bookingStore
	catalog  catalogReader
	bus      publisher
	now      func() time.Time
}

func NewMachine(bookings bookingStore, catalog catalogReader, bus publisher) *Machine {
	return &Machine{
		bookings: bookings,
		catalog:  catalog,
		bus:      bus,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type CreateRequest struct {
	ServiceID     uuid.UUID
	ScheduledTime time.Time
}

// Create opens a booking in the requested state, snapshotting the service's
// provider, price and currency from the catalog.
func (m *Machine) Create(ctx context.Context, actor domain.Actor, req CreateRequest) (*domain.Booking, error) {
	log := logging.FromContext(ctx)

	if actor.Role != domain.RoleCustomer {
		return nil, fmt.Errorf("Create: role %s: %w", actor.Role, domain.ErrUnauthorized)
	}

	now := m.now()
	if req.ScheduledTime.IsZero() || !req.ScheduledTime.After(now) {
		return nil, fmt.Errorf("Create: scheduled time must be in the future: %w", domain.ErrInvalidRequest)
	}

	svc, err := m.catalog.GetService(ctx, req.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}
	if !svc.Active {
		return nil, fmt.Errorf("Create: %w", domain.ErrServiceUnavailable)
	}
	if svc.ProviderID == actor.ID {
		return nil, fmt.Errorf("Create: %w", domain.ErrSelfBooking)
	}

	b := &domain.Booking{
		ID:            uuid.New(),
		ServiceID:     svc.ID,
		CustomerID:    actor.ID,
		ProviderID:    svc.ProviderID,
		Status:        domain.BookingStatusRequested,
		Price:         svc.Price,
		Currency:      svc.Currency,
		ScheduledTime: req.ScheduledTime.UTC(),
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := m.bookings.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}

	log.Info("booking requested",
		"booking_id", b.ID,
		"service_id", b.ServiceID,
		"customer_id", b.CustomerID,
		"provider_id", b.ProviderID,
		"price", b.Price.StringFixed(2),
		"currency", b.Currency,
	)

	m.bus.Publish(ctx, domain.NewBookingEvent(b, "request", "", actor.ID))
	return b, nil
}

// Apply validates and performs one transition. The write is a compare-and-set
// on the version read here; losing a race yields domain.ErrConflictRetry and
// the caller must re-read before retrying.
func (m *Machine) Apply(ctx context.Context, bookingID uuid.UUID, actor domain.Actor, transition string) (*domain.Booking, error) {
	log := logging.FromContext(ctx)

	b, err := m.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("Apply: %w", err)
	}

	t, err := ParseTransition(transition)
	if err != nil {
		metrics.RecordTransition("unknown", "invalid")
		return nil, fmt.Errorf("Apply: %w", err)
	}

	next, err := m.check(b, actor, t)
	if err != nil {
		return nil, fmt.Errorf("Apply: %w", err)
	}

	now := m.now()
	if err := m.bookings.UpdateStatus(ctx, b.ID, b.Version, next, now); err != nil {
		if errors.Is(err, domain.ErrConflictRetry) {
			metrics.RecordTransition(string(t), "conflict")
			log.Warn("booking transition lost race",
				"booking_id", b.ID,
				"transition", t,
				"read_version", b.Version,
			)
		}
		return nil, fmt.Errorf("Apply: %w", err)
	}

	updated := advance(b, next, now)
	metrics.RecordTransition(string(t), "applied")

	log.Info("booking transition applied",
		"booking_id", b.ID,
		"transition", t,
		"from", b.Status,
		"to", updated.Status,
		"version", updated.Version,
		"actor_id", actor.ID,
		"actor_role", actor.Role,
	)

	m.bus.Publish(ctx, domain.NewBookingEvent(updated, string(t), b.Status, actor.ID))
	return updated, nil
}

// ApplyInTx performs t on a booking already locked by the caller's transaction.
// It does not publish; the caller publishes once tx has committed.
func (m *Machine) ApplyInTx(ctx context.Context, tx *sql.Tx, b *domain.Booking, actor domain.Actor, t Transition) (*domain.Booking, error) {
	next, err := m.check(b, actor, t)
	if err != nil {
		return nil, fmt.Errorf("ApplyInTx: %w", err)
	}

	now := m.now()
	if err := m.bookings.UpdateStatusTx(ctx, tx, b.ID, b.Version, next, now); err != nil {
		return nil, fmt.Errorf("ApplyInTx: %w", err)
	}

	metrics.RecordTransition(string(t), "applied")
	return advance(b, next, now), nil
}

func (m *Machine) check(b *domain.Booking, actor domain.Actor, t Transition) (domain.BookingStatus, error) {
	if err := Authorize(b, actor, t); err != nil {
		metrics.RecordTransition(string(t), "unauthorized")
		return "", err
	}
	next, err := Next(b.Status, t)
	if err != nil {
		metrics.RecordTransition(string(t), "invalid")
		return "", err
	}
	return next, nil
}

func advance(b *domain.Booking, next domain.BookingStatus, at time.Time) *domain.Booking {
	updated := *b
	updated.Status = next
	updated.Version = b.Version + 1
	updated.UpdatedAt = at
	return &updated
}

// Get returns a booking visible to actor. Non-participants see NotFound so
// booking ids cannot be probed.
func (m *Machine) Get(ctx context.Context, actor domain.Actor, bookingID uuid.UUID) (*domain.Booking, error) {
	b, err := m.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	if !b.IsParticipant(actor.ID) {
		return nil, fmt.Errorf("Get: %w", domain.ErrNotFound)
	}
	return b, nil
}

func (m *Machine) List(ctx context.Context, actor domain.Actor, limit, offset int) ([]domain.Booking, error) {
	bookings, err := m.bookings.ListByParticipant(ctx, actor.ID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return bookings, nil
}
