package invoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/josh-kwaku/servicehub/internal/domain"
	"github.com/josh-kwaku/servicehub/internal/metrics"
)

type renderStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Invoice, error)
	RecordAttempt(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkArtifact(ctx context.Context, id uuid.UUID, status domain.ArtifactStatus, ref *string, at time.Time) error
}

type renderer interface {
	Render(inv *domain.Invoice, b *domain.Booking) ([]byte, error)
}

type artifactWriter interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
}

type WorkerConfig struct {
	Workers         int
	QueueSize       int
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
	return c
}

// Worker renders invoice artifacts off the request path. An invoice is
// rendered by at most one goroutine at a time.
type Worker struct {
	invoices renderStore
	bookings bookingReader
	renderer renderer
	store    artifactWriter
	logger   *slog.Logger
	cfg      WorkerConfig
	now      func() time.Time

	queue    chan uuid.UUID
	mu       sync.Mutex
	inflight map[uuid.UUID]struct{}
}

func NewWorker(
	invoices renderStore,
	bookings bookingReader,
	r renderer,
	store artifactWriter,
	logger *slog.Logger,
	cfg WorkerConfig,
) *Worker {
	cfg = cfg.withDefaults()
	return &Worker{
		invoices: invoices,
		bookings: bookings,
		renderer: r,
		store:    store,
		logger:   logger,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		queue:    make(chan uuid.UUID, cfg.QueueSize),
		inflight: make(map[uuid.UUID]struct{}),
	}
}

// Enqueue schedules a render and reports whether it was accepted. Invoices
// already queued or rendering are skipped; a full queue drops the request and
// leaves the invoice pending for the sweeper.
func (w *Worker) Enqueue(invoiceID uuid.UUID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.inflight[invoiceID]; ok {
		return false
	}
	select {
	case w.queue <- invoiceID:
		w.inflight[invoiceID] = struct{}{}
		return true
	default:
		w.logger.Warn("render queue full, deferring to sweeper", "invoice_id", invoiceID)
		return false
	}
}

// Start runs the worker pool until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("invoice render workers started",
		"workers", w.cfg.Workers,
		"max_attempts", w.cfg.MaxAttempts,
	)

	var wg sync.WaitGroup
	for range w.cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id := <-w.queue:
					w.process(ctx, id)
					w.done(id)
				}
			}
		}()
	}
	wg.Wait()
	w.logger.Info("invoice render workers stopped")
}

func (w *Worker) done(id uuid.UUID) {
	w.mu.Lock()
	delete(w.inflight, id)
	w.mu.Unlock()
}

func (w *Worker) process(ctx context.Context, id uuid.UUID) {
	log := w.logger.With("invoice_id", id)

	inv, err := w.invoices.GetByID(ctx, id)
	if err != nil {
		log.Error("failed to load invoice for render", "error", err)
		return
	}
	if inv.ArtifactStatus != domain.ArtifactStatusPending {
		return
	}

	b, err := w.bookings.GetByID(ctx, inv.BookingID)
	if err != nil {
		log.Error("failed to load booking for render", "booking_id", inv.BookingID, "error", err)
		return
	}

	ref, err := w.renderWithRetry(ctx, inv, b)
	if err != nil {
		if ctx.Err() != nil {
			// shutdown mid-render; the sweeper picks it up on next start
			return
		}
		metrics.RecordRender("failed")
		log.Error("invoice artifact render exhausted retries",
			"booking_id", inv.BookingID,
			"attempts", w.cfg.MaxAttempts,
			"error", fmt.Errorf("%w: %v", domain.ErrArtifactRender, err),
		)
		if err := w.invoices.MarkArtifact(ctx, id, domain.ArtifactStatusFailed, nil, w.now()); err != nil {
			log.Error("failed to mark artifact failed", "error", err)
		}
		return
	}

	if err := w.invoices.MarkArtifact(ctx, id, domain.ArtifactStatusReady, &ref, w.now()); err != nil {
		log.Error("failed to mark artifact ready", "artifact_ref", ref, "error", err)
		return
	}
	metrics.RecordRender("ready")
	log.Info("invoice artifact ready", "booking_id", inv.BookingID, "artifact_ref", ref)
}

func (w *Worker) renderWithRetry(ctx context.Context, inv *domain.Invoice, b *domain.Booking) (string, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = w.cfg.InitialInterval
	exp.MaxInterval = w.cfg.MaxInterval
	exp.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(w.cfg.MaxAttempts-1)), ctx)

	var ref string
	attempt := 0
	op := func() error {
		attempt++
		if err := w.invoices.RecordAttempt(ctx, inv.ID, w.now()); err != nil {
			return fmt.Errorf("record attempt: %w", err)
		}

		data, err := w.renderer.Render(inv, b)
		if err != nil {
			return fmt.Errorf("render: %w", err)
		}
		ref, err = w.store.Put(ctx, ArtifactName(inv.ID), data)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidRequest) {
				return backoff.Permanent(err)
			}
			return fmt.Errorf("store: %w", err)
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		metrics.RecordRender("retry")
		w.logger.Warn("invoice render attempt failed",
			"invoice_id", inv.ID,
			"attempt", attempt,
			"retry_in", wait,
			"error", err,
		)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return "", err
	}
	return ref, nil
}

const (
	artifactPrefix = "invoice-"
	artifactSuffix = ".pdf"
)

// ArtifactName is the file name an invoice document is stored and served
// under.
func ArtifactName(invoiceID uuid.UUID) string {
	return artifactPrefix + invoiceID.String() + artifactSuffix
}

// ParseArtifactName reverses ArtifactName. Anything else is rejected.
func ParseArtifactName(name string) (uuid.UUID, bool) {
	rest, ok := strings.CutPrefix(name, artifactPrefix)
	if !ok {
		return uuid.Nil, false
	}
	rest, ok = strings.CutSuffix(rest, artifactSuffix)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(rest)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
