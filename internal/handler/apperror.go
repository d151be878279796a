package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrMissingToken     = &AppError{http.StatusUnauthorized, "MISSING_TOKEN", "Authorization header required"}
	ErrInvalidToken     = &AppError{http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid or expired"}
	ErrInvalidSignature = &AppError{http.StatusUnauthorized, "INVALID_SIGNATURE", "Gateway signature is invalid"}
	ErrInvalidRequest   = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrForbidden        = &AppError{http.StatusForbidden, "FORBIDDEN", "Actor is not permitted to perform this action"}
	ErrResourceNotFound = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrInternalError    = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}

	ErrInvalidTransition  = &AppError{http.StatusConflict, "INVALID_TRANSITION", "Transition is not allowed from the booking's current status"}
	ErrConflictRetry      = &AppError{http.StatusConflict, "CONFLICT_RETRY", "Booking was modified concurrently, re-read and retry"}
	ErrDuplicatePayment   = &AppError{http.StatusConflict, "DUPLICATE_PAYMENT", "Payment reference already recorded"}
	ErrAmountMismatch     = &AppError{http.StatusUnprocessableEntity, "AMOUNT_MISMATCH", "Payment amount does not match booking price"}
	ErrCurrencyMismatch   = &AppError{http.StatusUnprocessableEntity, "CURRENCY_MISMATCH", "Currency mismatch"}
	ErrBookingNotEligible = &AppError{http.StatusUnprocessableEntity, "BOOKING_NOT_ELIGIBLE", "Booking is not eligible for this operation"}
	ErrSelfBooking        = &AppError{http.StatusUnprocessableEntity, "SELF_BOOKING_NOT_ALLOWED", "Cannot book your own service"}
	ErrServiceUnavailable = &AppError{http.StatusUnprocessableEntity, "SERVICE_UNAVAILABLE", "Service is not available for booking"}

	ErrMissingIdempotencyKey = &AppError{http.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY", "Idempotency-Key header is required"}
	ErrIdempotencyConflict   = &AppError{http.StatusConflict, "IDEMPOTENCY_CONFLICT", "Idempotency key already used with a different request"}
	ErrIdempotencyInFlight   = &AppError{http.StatusConflict, "IDEMPOTENCY_IN_FLIGHT", "A request with this idempotency key is still being processed"}
)
