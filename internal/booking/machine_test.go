package booking

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/servicehub/internal/domain"
)

type fakeStore struct {
	mu       sync.Mutex
	bookings map[uuid.UUID]domain.Booking
}

func newFakeStore() *fakeStore {
	return &fakeStore{bookings: make(map[uuid.UUID]domain.Booking)}
}

func (s *fakeStore) Create(_ context.Context, b *domain.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[b.ID] = *b
	return nil
}

func (s *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &b, nil
}

func (s *fakeStore) ListByParticipant(_ context.Context, userID uuid.UUID, limit, offset int) ([]domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Booking
	for _, b := range s.bookings {
		if b.IsParticipant(userID) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateStatus(_ context.Context, id uuid.UUID, expectedVersion int64, status domain.BookingStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok || b.Version != expectedVersion {
		return domain.ErrConflictRetry
	}
	b.Status = status
	b.Version++
	b.UpdatedAt = at
	s.bookings[id] = b
	return nil
}

func (s *fakeStore) UpdateStatusTx(ctx context.Context, _ *sql.Tx, id uuid.UUID, expectedVersion int64, status domain.BookingStatus, at time.Time) error {
	return s.UpdateStatus(ctx, id, expectedVersion, status, at)
}

type fakeCatalog struct {
	services map[uuid.UUID]domain.Service
}

func (c *fakeCatalog) GetService(_ context.Context, id uuid.UUID) (*domain.Service, error) {
	svc, ok := c.services[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &svc, nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []domain.NotificationEvent
}

func (r *recordingBus) Publish(_ context.Context, e domain.NotificationEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingBus) snapshot() []domain.NotificationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.NotificationEvent(nil), r.events...)
}

type fixture struct {
	machine  *Machine
	store    *fakeStore
	bus      *recordingBus
	service  domain.Service
	customer domain.Actor
	provider domain.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	provider := domain.Actor{ID: uuid.New(), Role: domain.RoleProvider}
	svc := domain.Service{
		ID:         uuid.New(),
		ProviderID: provider.ID,
		Name:       "Deep clean",
		Price:      decimal.RequireFromString("120.00"),
		Currency:   domain.CurrencyUSD,
		Active:     true,
	}
	store := newFakeStore()
	bus := &recordingBus{}
	catalog := &fakeCatalog{services: map[uuid.UUID]domain.Service{svc.ID: svc}}

	return &fixture{
		machine:  NewMachine(store, catalog, bus),
		store:    store,
		bus:      bus,
		service:  svc,
		customer: domain.Actor{ID: uuid.New(), Role: domain.RoleCustomer},
		provider: provider,
	}
}

func (f *fixture) seed(t *testing.T, status domain.BookingStatus) *domain.Booking {
	t.Helper()
	now := time.Now().UTC()
	b := &domain.Booking{
		ID:            uuid.New(),
		ServiceID:     f.service.ID,
		CustomerID:    f.customer.ID,
		ProviderID:    f.provider.ID,
		Status:        status,
		Price:         f.service.Price,
		Currency:      f.service.Currency,
		ScheduledTime: now.Add(24 * time.Hour),
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, f.store.Create(context.Background(), b))
	return b
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.machine.Create(ctx, f.customer, CreateRequest{
		ServiceID:     f.service.ID,
		ScheduledTime: time.Now().Add(48 * time.Hour),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.BookingStatusRequested, b.Status)
	assert.Equal(t, int64(1), b.Version)
	assert.Equal(t, f.provider.ID, b.ProviderID)
	assert.True(t, f.service.Price.Equal(b.Price))
	assert.Equal(t, domain.CurrencyUSD, b.Currency)

	events := f.bus.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "request", events[0].Transition)
	assert.ElementsMatch(t, []uuid.UUID{f.customer.ID, f.provider.ID}, events[0].Recipients)
}

func TestCreate_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	future := time.Now().Add(time.Hour)

	inactive := domain.Service{
		ID: uuid.New(), ProviderID: f.provider.ID, Price: decimal.NewFromInt(10),
		Currency: domain.CurrencyUSD, Active: false,
	}
	f.machine.catalog.(*fakeCatalog).services[inactive.ID] = inactive

	tests := []struct {
		name    string
		actor   domain.Actor
		req     CreateRequest
		wantErr error
	}{
		{
			name:    "provider role cannot request",
			actor:   f.provider,
			req:     CreateRequest{ServiceID: f.service.ID, ScheduledTime: future},
			wantErr: domain.ErrUnauthorized,
		},
		{
			name:    "scheduled in the past",
			actor:   f.customer,
			req:     CreateRequest{ServiceID: f.service.ID, ScheduledTime: time.Now().Add(-time.Hour)},
			wantErr: domain.ErrInvalidRequest,
		},
		{
			name:    "missing scheduled time",
			actor:   f.customer,
			req:     CreateRequest{ServiceID: f.service.ID},
			wantErr: domain.ErrInvalidRequest,
		},
		{
			name:    "unknown service",
			actor:   f.customer,
			req:     CreateRequest{ServiceID: uuid.New(), ScheduledTime: future},
			wantErr: domain.ErrNotFound,
		},
		{
			name:    "inactive service",
			actor:   f.customer,
			req:     CreateRequest{ServiceID: inactive.ID, ScheduledTime: future},
			wantErr: domain.ErrServiceUnavailable,
		},
		{
			name:    "provider booking own service",
			actor:   domain.Actor{ID: f.provider.ID, Role: domain.RoleCustomer},
			req:     CreateRequest{ServiceID: f.service.ID, ScheduledTime: future},
			wantErr: domain.ErrSelfBooking,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.machine.Create(ctx, tc.actor, tc.req)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
	assert.Empty(t, f.bus.snapshot())
}

func TestApply_HappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.seed(t, domain.BookingStatusRequested)

	steps := []struct {
		transition string
		want       domain.BookingStatus
	}{
		{"accept", domain.BookingStatusAccepted},
		{"start", domain.BookingStatusInProgress},
		{"complete", domain.BookingStatusPaymentPending},
	}

	for i, step := range steps {
		updated, err := f.machine.Apply(ctx, b.ID, f.provider, step.transition)
		require.NoError(t, err, step.transition)
		assert.Equal(t, step.want, updated.Status)
		assert.Equal(t, int64(i+2), updated.Version)
	}

	stored, err := f.store.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusPaymentPending, stored.Status)
	assert.Equal(t, int64(4), stored.Version)

	events := f.bus.snapshot()
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, steps[i].transition, e.Transition)
		assert.Equal(t, steps[i].want, e.Status)
		assert.Equal(t, int64(i+2), e.Version)
	}
}

func TestApply_RejectedLeavesBookingUntouched(t *testing.T) {
	tests := []struct {
		name       string
		status     domain.BookingStatus
		actor      func(f *fixture) domain.Actor
		transition string
		wantErr    error
	}{
		{
			name:       "customer cannot accept",
			status:     domain.BookingStatusRequested,
			actor:      func(f *fixture) domain.Actor { return f.customer },
			transition: "accept",
			wantErr:    domain.ErrUnauthorized,
		},
		{
			name:       "customer cancels paid booking",
			status:     domain.BookingStatusPaid,
			actor:      func(f *fixture) domain.Actor { return f.customer },
			transition: "cancel",
			wantErr:    domain.ErrInvalidTransition,
		},
		{
			name:       "start before accept",
			status:     domain.BookingStatusRequested,
			actor:      func(f *fixture) domain.Actor { return f.provider },
			transition: "start",
			wantErr:    domain.ErrInvalidTransition,
		},
		{
			name:       "unknown transition",
			status:     domain.BookingStatusRequested,
			actor:      func(f *fixture) domain.Actor { return f.provider },
			transition: "refund",
			wantErr:    domain.ErrInvalidTransition,
		},
		{
			name:       "provider cannot pay",
			status:     domain.BookingStatusPaymentPending,
			actor:      func(f *fixture) domain.Actor { return f.provider },
			transition: "pay",
			wantErr:    domain.ErrUnauthorized,
		},
		{
			name:       "cancel after completion",
			status:     domain.BookingStatusPaymentPending,
			actor:      func(f *fixture) domain.Actor { return f.provider },
			transition: "cancel",
			wantErr:    domain.ErrInvalidTransition,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			b := f.seed(t, tc.status)

			_, err := f.machine.Apply(ctx, b.ID, tc.actor(f), tc.transition)
			require.ErrorIs(t, err, tc.wantErr)

			stored, err := f.store.GetByID(ctx, b.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.status, stored.Status)
			assert.Equal(t, b.Version, stored.Version)
			assert.Empty(t, f.bus.snapshot())
		})
	}
}

func TestApply_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.machine.Apply(context.Background(), uuid.New(), f.provider, "accept")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestApply_ConcurrentAcceptAndReject(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture(t)
		ctx := context.Background()
		b := f.seed(t, domain.BookingStatusRequested)

		var wg sync.WaitGroup
		start := make(chan struct{})
		errs := make([]error, 2)
		for j, tr := range []string{"accept", "reject"} {
			wg.Add(1)
			go func(j int, tr string) {
				defer wg.Done()
				<-start
				_, errs[j] = f.machine.Apply(ctx, b.ID, f.provider, tr)
			}(j, tr)
		}
		close(start)
		wg.Wait()

		var succeeded int
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.True(t,
				errors.Is(err, domain.ErrConflictRetry) || errors.Is(err, domain.ErrInvalidTransition),
				"unexpected error: %v", err)
		}
		require.Equal(t, 1, succeeded)

		stored, err := f.store.GetByID(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), stored.Version)
		assert.Contains(t, []domain.BookingStatus{domain.BookingStatusAccepted, domain.BookingStatusRejected}, stored.Status)
		assert.Len(t, f.bus.snapshot(), 1)
	}
}

func TestApply_StaleVersionConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.seed(t, domain.BookingStatusRequested)

	// another writer bumps the version without the machine noticing
	require.NoError(t, f.store.UpdateStatus(ctx, b.ID, 1, domain.BookingStatusRequested, time.Now()))

	err := f.store.UpdateStatus(ctx, b.ID, 1, domain.BookingStatusAccepted, time.Now())
	assert.ErrorIs(t, err, domain.ErrConflictRetry)
	assert.True(t, domain.IsRetryable(err))
}

func TestGet_HidesFromNonParticipants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.seed(t, domain.BookingStatusRequested)

	got, err := f.machine.Get(ctx, f.customer, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	_, err = f.machine.Get(ctx, domain.Actor{ID: uuid.New(), Role: domain.RoleCustomer}, b.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, domain.BookingStatusRequested)
	f.seed(t, domain.BookingStatusPaid)

	mine, err := f.machine.List(ctx, f.customer, 20, 0)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	none, err := f.machine.List(ctx, domain.Actor{ID: uuid.New(), Role: domain.RoleCustomer}, 20, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}
