package handler

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"
)

// pinger is satisfied by notify.RedisRelay.
type pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	db    *sql.DB
	relay pinger
}

// NewHealthHandler builds the health endpoints. relay may be nil when the
// service runs without a cross-instance relay.
func NewHealthHandler(db *sql.DB, relay pinger) *HealthHandler {
	return &HealthHandler{db: db, relay: relay}
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"version":   "1.0.0",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"database": "ok"}
	httpStatus := http.StatusOK

	if err := h.db.PingContext(r.Context()); err != nil {
		slog.Warn("readiness check failed: database unreachable", "error", err)
		checks["database"] = "down"
		httpStatus = http.StatusServiceUnavailable
	}

	if h.relay != nil {
		checks["relay"] = "ok"
		if err := h.relay.Ping(r.Context()); err != nil {
			// Delivery falls back to this instance's connections, so a lost
			// relay degrades readiness without failing it.
			slog.Warn("readiness check degraded: relay unreachable", "error", err)
			checks["relay"] = "down"
		}
	}

	overallStatus := "ok"
	if httpStatus != http.StatusOK {
		overallStatus = "down"
	} else if checks["relay"] == "down" {
		overallStatus = "degraded"
	}

	RespondJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}
