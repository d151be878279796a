package domain

import (
	"time"

	"github.com/google/uuid"
)

// NotificationEvent describes one committed booking state change. It is never
// persisted; the booking row stays the source of truth.
type NotificationEvent struct {
	BookingID      uuid.UUID     `json:"booking_id"`
	Transition     string        `json:"transition"`
	Status         BookingStatus `json:"status"`
	PreviousStatus BookingStatus `json:"previous_status,omitempty"`
	Version        int64         `json:"version"`
	ActorID        uuid.UUID     `json:"actor_id"`
	Recipients     []uuid.UUID   `json:"-"`
	OccurredAt     time.Time     `json:"occurred_at"`
}

// NewBookingEvent addresses an event to both participants of b.
func NewBookingEvent(b *Booking, transition string, previous BookingStatus, actorID uuid.UUID) NotificationEvent {
	return NotificationEvent{
		BookingID:      b.ID,
		Transition:     transition,
		Status:         b.Status,
		PreviousStatus: previous,
		Version:        b.Version,
		ActorID:        actorID,
		Recipients:     []uuid.UUID{b.CustomerID, b.ProviderID},
		OccurredAt:     b.UpdatedAt,
	}
}
