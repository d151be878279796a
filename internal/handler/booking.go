package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/servicehub/internal/booking"
	"github.com/josh-kwaku/servicehub/internal/domain"
	"github.com/josh-kwaku/servicehub/internal/logging"
)

type bookingMachine interface {
	Create(ctx context.Context, actor domain.Actor, req booking.CreateRequest) (*domain.Booking, error)
	Apply(ctx context.Context, bookingID uuid.UUID, actor domain.Actor, transition string) (*domain.Booking, error)
	Get(ctx context.Context, actor domain.Actor, bookingID uuid.UUID) (*domain.Booking, error)
	List(ctx context.Context, actor domain.Actor, limit, offset int) ([]domain.Booking, error)
}

type BookingHandler struct {
	bookings bookingMachine
}

func NewBookingHandler(bookings bookingMachine) *BookingHandler {
	return &BookingHandler{bookings: bookings}
}

type createBookingRequest struct {
	ServiceID     string `json:"service_id"`
	ScheduledTime string `json:"scheduled_time"`
}

func (r createBookingRequest) Validate() ([]FieldError, booking.CreateRequest) {
	var (
		errs []FieldError
		out  booking.CreateRequest
	)

	if r.ServiceID == "" {
		errs = append(errs, FieldError{Field: "service_id", Message: "required"})
	} else if id, err := uuid.Parse(r.ServiceID); err != nil {
		errs = append(errs, FieldError{Field: "service_id", Message: "must be a valid UUID"})
	} else {
		out.ServiceID = id
	}

	if r.ScheduledTime == "" {
		errs = append(errs, FieldError{Field: "scheduled_time", Message: "required"})
	} else if ts, err := time.Parse(time.RFC3339, r.ScheduledTime); err != nil {
		errs = append(errs, FieldError{Field: "scheduled_time", Message: "must be an RFC 3339 timestamp"})
	} else {
		out.ScheduledTime = ts
	}

	return errs, out
}

type transitionRequest struct {
	Transition string `json:"transition"`
}

type bookingDTO struct {
	ID            uuid.UUID `json:"id"`
	ServiceID     uuid.UUID `json:"service_id"`
	CustomerID    uuid.UUID `json:"customer_id"`
	ProviderID    uuid.UUID `json:"provider_id"`
	Status        string    `json:"status"`
	Price         string    `json:"price"`
	Currency      string    `json:"currency"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Version       int64     `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toBookingDTO(b *domain.Booking) bookingDTO {
	return bookingDTO{
		ID:            b.ID,
		ServiceID:     b.ServiceID,
		CustomerID:    b.CustomerID,
		ProviderID:    b.ProviderID,
		Status:        string(b.Status),
		Price:         b.Price.StringFixed(2),
		Currency:      string(b.Currency),
		ScheduledTime: b.ScheduledTime,
		Version:       b.Version,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	actor, appErr := actorFromRequest(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	fields, createReq := req.Validate()
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	b, err := h.bookings.Create(r.Context(), actor, createReq)
	if err != nil {
		log.Warn("booking creation failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/bookings/%s", b.ID))
	RespondSuccess(w, http.StatusCreated, toBookingDTO(b))
}

func (h *BookingHandler) Transition(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	actor, appErr := actorFromRequest(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	bookingID, appErr := idFromPath(r, "id")
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if req.Transition == "" {
		RespondValidationError(w, []FieldError{{Field: "transition", Message: "required"}})
		return
	}

	b, err := h.bookings.Apply(r.Context(), bookingID, actor, req.Transition)
	if err != nil {
		log.Warn("booking transition rejected",
			"booking_id", bookingID,
			"transition", req.Transition,
			"error", err,
		)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toBookingDTO(b))
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, appErr := actorFromRequest(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	bookingID, appErr := idFromPath(r, "id")
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	b, err := h.bookings.Get(r.Context(), actor, bookingID)
	if err != nil {
		logging.FromContext(r.Context()).Warn("booking lookup failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toBookingDTO(b))
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, appErr := actorFromRequest(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	limit, offset, fields := pageFromQuery(r)
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	bookings, err := h.bookings.List(r.Context(), actor, limit, offset)
	if err != nil {
		logging.FromContext(r.Context()).Error("booking list failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	out := make([]bookingDTO, 0, len(bookings))
	for i := range bookings {
		out = append(out, toBookingDTO(&bookings[i]))
	}
	RespondSuccess(w, http.StatusOK, map[string]any{
		"bookings": out,
		"limit":    limit,
		"offset":   offset,
	})
}
