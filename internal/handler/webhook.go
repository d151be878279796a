package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/servicehub/internal/domain"
	"github.com/josh-kwaku/servicehub/internal/logging"
	"github.com/josh-kwaku/servicehub/internal/payment"
)

const GatewaySignatureHeader = "X-Gateway-Signature"

type paymentRecorder interface {
	Record(ctx context.Context, req payment.RecordRequest) (*payment.Result, error)
}

// GatewayHandler receives signed payment outcomes from the payment gateway.
type GatewayHandler struct {
	payments paymentRecorder
	secret   string
}

func NewGatewayHandler(payments paymentRecorder, secret string) *GatewayHandler {
	return &GatewayHandler{payments: payments, secret: secret}
}

type gatewayPayload struct {
	BookingID   string `json:"booking_id"`
	ExternalRef string `json:"external_ref"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Outcome     string `json:"outcome"`
}

func (p gatewayPayload) validate() ([]FieldError, payment.RecordRequest) {
	var (
		errs []FieldError
		req  payment.RecordRequest
	)

	if p.BookingID == "" {
		errs = append(errs, FieldError{Field: "booking_id", Message: "required"})
	} else if id, err := uuid.Parse(p.BookingID); err != nil {
		errs = append(errs, FieldError{Field: "booking_id", Message: "must be a valid UUID"})
	} else {
		req.BookingID = id
	}

	if p.ExternalRef == "" {
		errs = append(errs, FieldError{Field: "external_ref", Message: "required"})
	}
	req.ExternalRef = p.ExternalRef

	if p.Amount == "" {
		errs = append(errs, FieldError{Field: "amount", Message: "required"})
	} else if amt, err := decimal.NewFromString(p.Amount); err != nil || !amt.IsPositive() {
		errs = append(errs, FieldError{Field: "amount", Message: "must be a positive decimal"})
	} else {
		req.Amount = amt
	}

	req.Currency = domain.Currency(p.Currency)
	if !req.Currency.IsValid() {
		errs = append(errs, FieldError{Field: "currency", Message: "must be USD, EUR, or GBP"})
	}

	req.Outcome = domain.PaymentOutcome(p.Outcome)
	if !req.Outcome.IsValid() {
		errs = append(errs, FieldError{Field: "outcome", Message: "must be pending, succeeded, or failed"})
	}

	return errs, req
}

type paymentResultDTO struct {
	Status        string     `json:"status"`
	PaymentID     uuid.UUID  `json:"payment_id"`
	InvoiceID     *uuid.UUID `json:"invoice_id,omitempty"`
	BookingStatus string     `json:"booking_status"`
}

func (h *GatewayHandler) ReceiveCallback(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		log.Error("failed to read gateway callback body", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if !verifyHMAC(body, r.Header.Get(GatewaySignatureHeader), h.secret) {
		log.Warn("gateway signature verification failed")
		RespondAppError(w, ErrInvalidSignature, nil)
		return
	}

	var payload gatewayPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Warn("failed to parse gateway payload", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	fields, req := payload.validate()
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	res, err := h.payments.Record(r.Context(), req)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	status := "recorded"
	if res.Replayed {
		status = "already_recorded"
	}
	RespondSuccess(w, http.StatusOK, paymentResultDTO{
		Status:        status,
		PaymentID:     res.PaymentID,
		InvoiceID:     res.InvoiceID,
		BookingStatus: string(res.BookingStatus),
	})
}

func SignPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyHMAC(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	return hmac.Equal([]byte(SignPayload(body, secret)), []byte(signature))
}
