package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrUnauthorized         = errors.New("actor not permitted")
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrConflictRetry        = errors.New("booking modified concurrently, re-read and retry")
	ErrDuplicatePayment     = errors.New("duplicate payment")
	ErrAmountMismatch       = errors.New("payment amount does not match booking price")
	ErrCurrencyMismatch     = errors.New("currency mismatch")
	ErrBookingNotEligible   = errors.New("booking not eligible for payment")
	ErrArtifactRender       = errors.New("invoice artifact rendering failed")
	ErrNotificationDelivery = errors.New("notification delivery failed")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrSelfBooking          = errors.New("cannot book own service")
	ErrServiceUnavailable   = errors.New("service not available for booking")
)

// IsRetryable reports whether err is a transient outcome the caller may retry
// after re-reading current state.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflictRetry)
}
