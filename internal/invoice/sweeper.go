package invoice

import (
	"context"
	"log/slog"
	"time"

	"github.com/josh-kwaku/servicehub/internal/domain"
)

type staleLister interface {
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]domain.Invoice, error)
}

// Sweeper re-enqueues invoices whose render never finished, such as after a
// crash between commit and rendering.
type Sweeper struct {
	invoices  staleLister
	renders   renderQueue
	logger    *slog.Logger
	interval  time.Duration
	staleness time.Duration
	batch     int
}

func NewSweeper(invoices staleLister, renders renderQueue, logger *slog.Logger, interval, staleness time.Duration) *Sweeper {
	return &Sweeper{
		invoices:  invoices,
		renders:   renders,
		logger:    logger,
		interval:  interval,
		staleness: staleness,
		batch:     50,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("invoice sweeper started", "interval", s.interval, "staleness", s.staleness)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("invoice sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-s.staleness)
	stale, err := s.invoices.ListStalePending(ctx, cutoff, s.batch)
	if err != nil {
		s.logger.Error("failed to list stale invoices", "error", err)
		return 0
	}

	var queued int
	for _, inv := range stale {
		if s.renders.Enqueue(inv.ID) {
			queued++
		}
	}
	if queued > 0 {
		s.logger.Info("re-enqueued stale invoices", "count", queued)
	}
	return queued
}
