package invoice

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/servicehub/internal/domain"
)

type memInvoices struct {
	mu       sync.Mutex
	invoices map[uuid.UUID]domain.Invoice
}

func (m *memInvoices) put(inv domain.Invoice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoices[inv.ID] = inv
}

func (m *memInvoices) GetByID(_ context.Context, id uuid.UUID) (*domain.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &inv, nil
}

func (m *memInvoices) RecordAttempt(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv := m.invoices[id]
	if inv.ArtifactStatus == domain.ArtifactStatusPending {
		inv.RenderAttempts++
		inv.UpdatedAt = at
		m.invoices[id] = inv
	}
	return nil
}

func (m *memInvoices) MarkArtifact(_ context.Context, id uuid.UUID, status domain.ArtifactStatus, ref *string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv := m.invoices[id]
	if inv.ArtifactStatus == domain.ArtifactStatusPending {
		inv.ArtifactStatus = status
		if ref != nil {
			inv.ArtifactRef = ref
		}
		inv.UpdatedAt = at
		m.invoices[id] = inv
	}
	return nil
}

type memBookings map[uuid.UUID]domain.Booking

func (m memBookings) GetByID(_ context.Context, id uuid.UUID) (*domain.Booking, error) {
	b, ok := m[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &b, nil
}

type flakyRenderer struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (r *flakyRenderer) Render(*domain.Invoice, *domain.Booking) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls <= r.failures {
		return nil, errors.New("font cache unavailable")
	}
	return []byte("%PDF-1.3"), nil
}

type memArtifacts struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (m *memArtifacts) Put(_ context.Context, name string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[name] = data
	return name, nil
}

func newWorkerFixture(t *testing.T, failures int) (*Worker, *memInvoices, *memArtifacts, *flakyRenderer, domain.Invoice) {
	t.Helper()

	b := domain.Booking{
		ID:       uuid.New(),
		Status:   domain.BookingStatusPaid,
		Price:    decimal.NewFromInt(50),
		Currency: domain.CurrencyEUR,
	}
	inv := domain.Invoice{
		ID:             uuid.New(),
		BookingID:      b.ID,
		PaymentID:      uuid.New(),
		Subtotal:       b.Price,
		TotalAmount:    b.Price,
		Currency:       b.Currency,
		IssuedAt:       time.Now().UTC(),
		ArtifactStatus: domain.ArtifactStatusPending,
	}

	invoices := &memInvoices{invoices: map[uuid.UUID]domain.Invoice{}}
	invoices.put(inv)
	artifacts := &memArtifacts{files: map[string][]byte{}}
	r := &flakyRenderer{failures: failures}

	w := NewWorker(invoices, memBookings{b.ID: b}, r, artifacts, slog.Default(), WorkerConfig{
		Workers:         1,
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	})
	return w, invoices, artifacts, r, inv
}

func runWorker(t *testing.T, w *Worker) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitForStatus(t *testing.T, invoices *memInvoices, id uuid.UUID, want domain.ArtifactStatus) *domain.Invoice {
	t.Helper()
	var got *domain.Invoice
	require.Eventually(t, func() bool {
		got, _ = invoices.GetByID(context.Background(), id)
		return got.ArtifactStatus == want
	}, 3*time.Second, 10*time.Millisecond)
	return got
}

func TestWorker_RendersAfterTransientFailures(t *testing.T) {
	w, invoices, artifacts, _, inv := newWorkerFixture(t, 2)
	runWorker(t, w)

	require.True(t, w.Enqueue(inv.ID))
	got := waitForStatus(t, invoices, inv.ID, domain.ArtifactStatusReady)

	require.NotNil(t, got.ArtifactRef)
	assert.Equal(t, ArtifactName(inv.ID), *got.ArtifactRef)
	assert.Equal(t, 3, got.RenderAttempts)
	assert.Contains(t, artifacts.files, *got.ArtifactRef)
}

func TestWorker_ExhaustedRetriesMarkFailed(t *testing.T) {
	w, invoices, artifacts, r, inv := newWorkerFixture(t, 100)
	runWorker(t, w)

	w.Enqueue(inv.ID)
	got := waitForStatus(t, invoices, inv.ID, domain.ArtifactStatusFailed)

	assert.Nil(t, got.ArtifactRef)
	assert.Equal(t, 3, got.RenderAttempts)
	assert.Empty(t, artifacts.files)

	// invoice record itself is untouched
	assert.True(t, inv.TotalAmount.Equal(got.TotalAmount))
	assert.Equal(t, inv.PaymentID, got.PaymentID)

	r.mu.Lock()
	assert.Equal(t, 3, r.calls)
	r.mu.Unlock()
}

func TestWorker_SkipsFinishedInvoices(t *testing.T) {
	w, invoices, _, r, inv := newWorkerFixture(t, 0)
	ref := "invoice-existing.pdf"
	inv.ArtifactStatus = domain.ArtifactStatusReady
	inv.ArtifactRef = &ref
	invoices.put(inv)

	w.process(context.Background(), inv.ID)

	assert.Equal(t, 0, r.calls)
}

func TestWorker_EnqueueDedupesInflight(t *testing.T) {
	w, _, _, _, inv := newWorkerFixture(t, 0)

	assert.True(t, w.Enqueue(inv.ID))
	assert.False(t, w.Enqueue(inv.ID))
	assert.True(t, w.Enqueue(uuid.New()))
}

type recordingQueue struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (q *recordingQueue) Enqueue(id uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
	return true
}

type staticLister struct {
	invoices []domain.Invoice
	cutoff   time.Time
}

func (s *staticLister) ListStalePending(_ context.Context, cutoff time.Time, _ int) ([]domain.Invoice, error) {
	s.cutoff = cutoff
	return s.invoices, nil
}

func TestSweeper_ReenqueuesStale(t *testing.T) {
	stale := []domain.Invoice{{ID: uuid.New()}, {ID: uuid.New()}}
	lister := &staticLister{invoices: stale}
	queue := &recordingQueue{}

	s := NewSweeper(lister, queue, slog.Default(), time.Minute, 10*time.Minute)
	n := s.sweep(context.Background())

	assert.Equal(t, 2, n)
	assert.Equal(t, []uuid.UUID{stale[0].ID, stale[1].ID}, queue.ids)
	assert.WithinDuration(t, time.Now().Add(-10*time.Minute), lister.cutoff, 5*time.Second)
}

func TestArtifactName_RoundTrip(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name   string
		file   string
		wantID uuid.UUID
		wantOK bool
	}{
		{name: "canonical name", file: ArtifactName(id), wantID: id, wantOK: true},
		{name: "missing prefix", file: id.String() + ".pdf"},
		{name: "wrong extension", file: "invoice-" + id.String() + ".txt"},
		{name: "not a uuid", file: "invoice-abc.pdf"},
		{name: "traversal", file: "invoice-../../etc/passwd.pdf"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ParseArtifactName(tc.file)
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.Equal(t, tc.wantID, got)
			}
		})
	}
}
