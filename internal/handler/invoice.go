package handler

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/servicehub/internal/domain"
	"github.com/josh-kwaku/servicehub/internal/invoice"
	"github.com/josh-kwaku/servicehub/internal/logging"
)

const artifactPathPrefix = "/invoices/"

type invoiceService interface {
	Generate(ctx context.Context, bookingID uuid.UUID) (*domain.Invoice, error)
	Get(ctx context.Context, actor domain.Actor, invoiceID uuid.UUID) (*domain.Invoice, error)
	GetForBooking(ctx context.Context, actor domain.Actor, bookingID uuid.UUID) (*domain.Invoice, error)
	OpenArtifact(ctx context.Context, actor domain.Actor, invoiceID uuid.UUID) (*os.File, *domain.Invoice, error)
}

type bookingViewer interface {
	Get(ctx context.Context, actor domain.Actor, bookingID uuid.UUID) (*domain.Booking, error)
}

type InvoiceHandler struct {
	invoices invoiceService
	bookings bookingViewer
}

func NewInvoiceHandler(invoices invoiceService, bookings bookingViewer) *InvoiceHandler {
	return &InvoiceHandler{invoices: invoices, bookings: bookings}
}

type invoiceDTO struct {
	ID             uuid.UUID `json:"id"`
	BookingID      uuid.UUID `json:"booking_id"`
	PaymentID      uuid.UUID `json:"payment_id"`
	Subtotal       string    `json:"subtotal"`
	FeeAmount      string    `json:"fee_amount"`
	TotalAmount    string    `json:"total_amount"`
	Currency       string    `json:"currency"`
	IssuedAt       time.Time `json:"issued_at"`
	ArtifactStatus string    `json:"artifact_status"`
	ArtifactURL    string    `json:"artifact_url,omitempty"`
}

func toInvoiceDTO(inv *domain.Invoice) invoiceDTO {
	dto := invoiceDTO{
		ID:             inv.ID,
		BookingID:      inv.BookingID,
		PaymentID:      inv.PaymentID,
		Subtotal:       inv.Subtotal.StringFixed(2),
		FeeAmount:      inv.FeeAmount.StringFixed(2),
		TotalAmount:    inv.TotalAmount.StringFixed(2),
		Currency:       string(inv.Currency),
		IssuedAt:       inv.IssuedAt,
		ArtifactStatus: string(inv.ArtifactStatus),
	}
	if inv.ArtifactStatus == domain.ArtifactStatusReady {
		dto.ArtifactURL = artifactPathPrefix + invoice.ArtifactName(inv.ID)
	}
	return dto
}


// Generate issues (or returns) the invoice of a paid booking. Only the
// booking's participants may ask.
func (h *InvoiceHandler) Generate(w http.ResponseWriter, r *http.Request) {
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

	if _, err := h.bookings.Get(r.Context(), actor, bookingID); err != nil {
		RespondDomainError(w, err)
		return
	}

	inv, err := h.invoices.Generate(r.Context(), bookingID)
	if err != nil {
		log.Warn("invoice generation failed", "booking_id", bookingID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toInvoiceDTO(inv))
}

func (h *InvoiceHandler) GetForBooking(w http.ResponseWriter, r *http.Request) {
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

	inv, err := h.invoices.GetForBooking(r.Context(), actor, bookingID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toInvoiceDTO(inv))
}

func (h *InvoiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, appErr := actorFromRequest(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	invoiceID, appErr := idFromPath(r, "id")
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	inv, err := h.invoices.Get(r.Context(), actor, invoiceID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toInvoiceDTO(inv))
}

// Download streams a rendered invoice document from /invoices/{file}.
func (h *InvoiceHandler) Download(w http.ResponseWriter, r *http.Request) {
	actor, appErr := actorFromRequest(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	invoiceID, ok := invoice.ParseArtifactName(r.PathValue("file"))
	if !ok {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	f, inv, err := h.invoices.OpenArtifact(r.Context(), actor, invoiceID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/pdf")
	http.ServeContent(w, r, invoice.ArtifactName(inv.ID), inv.UpdatedAt, f)
}
