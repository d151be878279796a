package booking

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/servicehub/internal/domain"
)

type Transition string

const (
	TransitionAccept   Transition = "accept"
	TransitionReject   Transition = "reject"
	TransitionStart    Transition = "start"
	TransitionComplete Transition = "complete"
	TransitionCancel   Transition = "cancel"
	TransitionPay      Transition = "pay"
)

// edges maps each transition to its allowed source statuses and the status it
// produces. Completing a booking lands directly in payment_pending: the
// completed step is folded into the same write.
var edges = map[Transition]map[domain.BookingStatus]domain.BookingStatus{
	TransitionAccept: {
		domain.BookingStatusRequested: domain.BookingStatusAccepted,
	},
	TransitionReject: {
		domain.BookingStatusRequested: domain.BookingStatusRejected,
	},
	TransitionStart: {
		domain.BookingStatusAccepted: domain.BookingStatusInProgress,
	},
	TransitionComplete: {
		domain.BookingStatusInProgress: domain.BookingStatusPaymentPending,
	},
	TransitionCancel: {
		domain.BookingStatusRequested:  domain.BookingStatusCancelled,
		domain.BookingStatusAccepted:   domain.BookingStatusCancelled,
		domain.BookingStatusInProgress: domain.BookingStatusCancelled,
	},
	TransitionPay: {
		domain.BookingStatusPaymentPending: domain.BookingStatusPaid,
	},
}

type ownershipCheck func(b *domain.Booking, actorID uuid.UUID) bool

func isProvider(b *domain.Booking, id uuid.UUID) bool { return b.ProviderID == id }
func isCustomer(b *domain.Booking, id uuid.UUID) bool { return b.CustomerID == id }
func anyActor(*domain.Booking, uuid.UUID) bool        { return true }

// permissions is the single (transition, role) table consulted for every
// transition. A role missing from a transition's entry may not request it.
var permissions = map[Transition]map[domain.Role]ownershipCheck{
	TransitionAccept:   {domain.RoleProvider: isProvider},
	TransitionReject:   {domain.RoleProvider: isProvider},
	TransitionStart:    {domain.RoleProvider: isProvider},
	TransitionComplete: {domain.RoleProvider: isProvider},
	TransitionCancel: {
		domain.RoleCustomer: isCustomer,
		domain.RoleProvider: isProvider,
	},
	TransitionPay: {domain.RoleSystem: anyActor},
}

func ParseTransition(s string) (Transition, error) {
	t := Transition(s)
	if _, ok := edges[t]; !ok {
		return "", fmt.Errorf("ParseTransition: %q: %w", s, domain.ErrInvalidTransition)
	}
	return t, nil
}

// Authorize checks the permission table for actor on b.
func Authorize(b *domain.Booking, actor domain.Actor, t Transition) error {
	byRole, ok := permissions[t]
	if !ok {
		return fmt.Errorf("Authorize: %s: %w", t, domain.ErrInvalidTransition)
	}
	owns, ok := byRole[actor.Role]
	if !ok || !owns(b, actor.ID) {
		return fmt.Errorf("Authorize: %s by %s: %w", t, actor.Role, domain.ErrUnauthorized)
	}
	return nil
}

// Next returns the status t leads to from current.
func Next(current domain.BookingStatus, t Transition) (domain.BookingStatus, error) {
	to, ok := edges[t][current]
	if !ok {
		return "", fmt.Errorf("Next: %s from %s: %w", t, current, domain.ErrInvalidTransition)
	}
	return to, nil
}

// Reachable reports whether s can appear as a persisted booking status.
func Reachable(s domain.BookingStatus) bool {
	if s == domain.BookingStatusRequested {
		return true
	}
	for _, from := range edges {
		for _, to := range from {
			if to == s {
				return true
			}
		}
	}
	return false
}
