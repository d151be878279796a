package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/josh-kwaku/servicehub/api"
	"github.com/josh-kwaku/servicehub/internal/artifact"
	"github.com/josh-kwaku/servicehub/internal/auth"
	"github.com/josh-kwaku/servicehub/internal/booking"
	"github.com/josh-kwaku/servicehub/internal/config"
	"github.com/josh-kwaku/servicehub/internal/handler"
	"github.com/josh-kwaku/servicehub/internal/invoice"
	"github.com/josh-kwaku/servicehub/internal/logging"
	"github.com/josh-kwaku/servicehub/internal/metrics"
	"github.com/josh-kwaku/servicehub/internal/middleware"
	"github.com/josh-kwaku/servicehub/internal/notify"
	"github.com/josh-kwaku/servicehub/internal/payment"
	"github.com/josh-kwaku/servicehub/internal/pricing"
	"github.com/josh-kwaku/servicehub/internal/repository"
)

const relayReadyTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Init("servicehub-api", cfg.LogLevel, cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifetimeS) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.DBConnMaxIdleTimeS) * time.Second,
	})
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	bookingRepo := repository.NewBookingRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)
	idempotencyRepo := repository.NewIdempotencyRepository(db)

	verifier := auth.NewVerifier(cfg.JWTSecret)
	hub := notify.NewHub(verifier, cfg.ConnBuffer, logger)

	var background sync.WaitGroup

	var relay *notify.RedisRelay
	if cfg.RedisURL != "" {
		rdb, err := notify.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()

		relay = notify.NewRedisRelay(rdb, cfg.RelayChannel, hub, logger)
		relayDone := make(chan struct{})
		background.Add(1)
		go func() {
			defer background.Done()
			defer close(relayDone)
			hub.RunRelay(ctx, relay)
		}()

		select {
		case <-relay.Ready():
		case <-relayDone:
		case <-time.After(relayReadyTimeout):
			slog.Error("notification relay did not subscribe", "timeout", relayReadyTimeout)
			os.Exit(1)
		case <-ctx.Done():
		}
	}

	store, err := artifact.NewLocalStore(cfg.ArtifactDir)
	if err != nil {
		slog.Error("failed to prepare artifact directory", "error", err)
		os.Exit(1)
	}

	fees, err := pricing.NewFeeSchedule(cfg.InvoiceFeeFlat, cfg.InvoiceFeePct)
	if err != nil {
		slog.Error("invalid invoice fee schedule", "error", err)
		os.Exit(1)
	}

	worker := invoice.NewWorker(invoiceRepo, bookingRepo, invoice.NewPDFRenderer(cfg.InvoiceIssuer), store, logger, invoice.WorkerConfig{
		Workers:         cfg.RenderWorkers,
		MaxAttempts:     cfg.RenderMaxAttempts,
		InitialInterval: cfg.RenderInitialInterval,
	})
	sweeper := invoice.NewSweeper(invoiceRepo, worker, logger, cfg.InvoiceSweepInterval, cfg.InvoiceStaleAfter)

	machine := booking.NewMachine(bookingRepo, catalogRepo, hub)
	generator := invoice.NewGenerator(invoiceRepo, bookingRepo, paymentRepo, store, fees, worker, db)
	recorder := payment.NewRecorder(db, bookingRepo, paymentRepo, invoiceRepo, machine, generator, hub, cfg.PaymentAmountTolerance)

	for _, run := range []func(context.Context){worker.Start, sweeper.Start, idempotencyJanitor(idempotencyRepo, time.Hour)} {
		background.Add(1)
		go func() {
			defer background.Done()
			run(ctx)
		}()
	}

	var readinessRelay interface{ Ping(context.Context) error }
	if relay != nil {
		readinessRelay = relay
	}

	bookingHandler := handler.NewBookingHandler(machine)
	invoiceHandler := handler.NewInvoiceHandler(generator, machine)
	gatewayHandler := handler.NewGatewayHandler(recorder, cfg.GatewaySecret)
	realtimeHandler := handler.NewRealtimeHandler(hub)
	healthHandler := handler.NewHealthHandler(db, readinessRelay)

	authed := middleware.Auth(verifier)
	idempotent := middleware.Idempotency(idempotencyRepo, cfg.IdempotencyTTL)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", healthHandler.Liveness)
	mux.HandleFunc("GET /health/ready", healthHandler.Readiness)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /docs", handler.ServeDocs())
	mux.HandleFunc("GET /docs/openapi.yaml", handler.ServeSpec(api.OpenAPI))

	mux.HandleFunc("POST /api/v1/payments/callback", gatewayHandler.ReceiveCallback)
	mux.HandleFunc("GET /api/v1/realtime", realtimeHandler.Connect)

	mux.Handle("POST /api/v1/bookings", authed(idempotent(http.HandlerFunc(bookingHandler.Create))))
	mux.Handle("GET /api/v1/bookings", authed(http.HandlerFunc(bookingHandler.List)))
	mux.Handle("GET /api/v1/bookings/{id}", authed(http.HandlerFunc(bookingHandler.Get)))
	mux.Handle("POST /api/v1/bookings/{id}/transitions", authed(http.HandlerFunc(bookingHandler.Transition)))
	mux.Handle("GET /api/v1/bookings/{id}/invoice", authed(http.HandlerFunc(invoiceHandler.GetForBooking)))
	mux.Handle("POST /api/v1/bookings/{id}/invoice", authed(http.HandlerFunc(invoiceHandler.Generate)))
	mux.Handle("GET /api/v1/invoices/{id}", authed(http.HandlerFunc(invoiceHandler.Get)))
	mux.Handle("GET /invoices/{file}", authed(http.HandlerFunc(invoiceHandler.Download)))

	var h http.Handler = mux
	h = middleware.Metrics(h)
	h = middleware.Logging(h)
	h = middleware.Tracing(h)
	h = middleware.Recovery(h)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("server started", "addr", addr, "relay", relay != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	background.Wait()
	slog.Info("server stopped")
}

// idempotencyJanitor purges expired idempotency entries on a fixed interval.
func idempotencyJanitor(repo *repository.IdempotencyRepository, interval time.Duration) func(context.Context) {
	return func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := repo.CleanExpired(ctx)
				if err != nil {
					slog.Error("idempotency cleanup failed", "error", err)
					continue
				}
				if n > 0 {
					slog.Info("idempotency entries expired", "count", n)
				}
			}
		}
	}
}
