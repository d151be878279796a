// Command mock-gateway stands in for the payment gateway during local runs.
// It accepts a charge, answers with a reference, and then delivers the signed
// outcome callback twice to exercise duplicate delivery.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/servicehub/internal/handler"
	"github.com/josh-kwaku/servicehub/internal/logging"
)

type gatewayConfig struct {
	Port          int           `env:"PORT" envDefault:"8081"`
	CallbackURL   string        `env:"GATEWAY_CALLBACK_URL" envDefault:"http://localhost:8080/api/v1/payments/callback"`
	Secret        string        `env:"GATEWAY_WEBHOOK_SECRET,required"`
	CallbackDelay time.Duration `env:"GATEWAY_CALLBACK_DELAY" envDefault:"500ms"`
	Deliveries    int           `env:"GATEWAY_DELIVERIES" envDefault:"2"`
	AppEnv        string        `env:"APP_ENV" envDefault:"development"`
}

type chargeRequest struct {
	BookingID string `json:"booking_id"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Outcome   string `json:"outcome"`
}

type callback struct {
	BookingID   string `json:"booking_id"`
	ExternalRef string `json:"external_ref"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Outcome     string `json:"outcome"`
}

type gateway struct {
	cfg    gatewayConfig
	client *http.Client
}

func main() {
	cfg, err := env.ParseAs[gatewayConfig]()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logging.Init("mock-gateway", "info", cfg.AppEnv)

	g := &gateway{cfg: cfg, client: &http.Client{Timeout: 10 * time.Second}}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		handler.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /charges", g.charge)

	addr := fmt.Sprintf(":%d", cfg.Port)
	slog.Info("mock gateway started", "addr", addr, "callback_url", cfg.CallbackURL)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func (g *gateway) charge(w http.ResponseWriter, r *http.Request) {
	var req chargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handler.RespondAppError(w, handler.ErrInvalidRequest, nil)
		return
	}
	if _, err := uuid.Parse(req.BookingID); err != nil {
		handler.RespondValidationError(w, []handler.FieldError{{Field: "booking_id", Message: "must be a valid UUID"}})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		handler.RespondValidationError(w, []handler.FieldError{{Field: "amount", Message: "must be a decimal"}})
		return
	}
	if req.Outcome == "" {
		req.Outcome = "succeeded"
	}

	cb := callback{
		BookingID:   req.BookingID,
		ExternalRef: "gw_" + uuid.NewString(),
		Amount:      amount.StringFixed(2),
		Currency:    req.Currency,
		Outcome:     req.Outcome,
	}

	go g.deliver(cb)

	handler.RespondSuccess(w, http.StatusAccepted, map[string]string{
		"external_ref": cb.ExternalRef,
		"status":       "processing",
	})
}

// deliver posts the same signed callback cfg.Deliveries times. Each delivery
// is retried with backoff until the API answers with a non-5xx status.
func (g *gateway) deliver(cb callback) {
	log := slog.With("external_ref", cb.ExternalRef, "booking_id", cb.BookingID)
	time.Sleep(g.cfg.CallbackDelay)

	body, err := json.Marshal(cb)
	if err != nil {
		log.Error("failed to encode callback", "error", err)
		return
	}
	signature := handler.SignPayload(body, g.cfg.Secret)

	for n := 1; n <= g.cfg.Deliveries; n++ {
		var status int
		send := func() error {
			req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, g.cfg.CallbackURL, bytes.NewReader(body))
			if err != nil {
				return backoff.Permanent(err)
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set(handler.GatewaySignatureHeader, signature)

			resp, err := g.client.Do(req)
			if err != nil {
				return err
			}
			resp.Body.Close()
			status = resp.StatusCode
			if status >= http.StatusInternalServerError {
				return fmt.Errorf("callback answered %d", status)
			}
			return nil
		}

		policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
		if err := backoff.Retry(send, policy); err != nil {
			log.Error("callback delivery failed", "delivery", n, "error", err)
			continue
		}
		log.Info("callback delivered", "delivery", n, "status", status)
	}
}
