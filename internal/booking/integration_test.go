package booking_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/servicehub/internal/booking"
	"github.com/josh-kwaku/servicehub/internal/domain"
	"github.com/josh-kwaku/servicehub/internal/repository"
	"github.com/josh-kwaku/servicehub/internal/testutil"
)

type discardBus struct{}

func (discardBus) Publish(context.Context, domain.NotificationEvent) {}

func TestMachine_ConcurrentTransitionsOnPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	bookings := repository.NewBookingRepository(db)
	m := booking.NewMachine(bookings, repository.NewCatalogRepository(db), discardBus{})

	provider := domain.Actor{ID: uuid.New(), Role: domain.RoleProvider}
	customer := domain.Actor{ID: uuid.New(), Role: domain.RoleCustomer}
	svc := testutil.SeedService(t, db, provider.ID, "60.00", domain.CurrencyGBP)

	for i := 0; i < 10; i++ {
		b := testutil.SeedBooking(t, db, svc, customer.ID, domain.BookingStatusRequested)

		type attempt struct {
			actor domain.Actor
			tr    string
		}
		attempts := []attempt{
			{provider, "accept"},
			{provider, "reject"},
			{customer, "cancel"},
		}

		var wg sync.WaitGroup
		start := make(chan struct{})
		errs := make([]error, len(attempts))
		for j, a := range attempts {
			wg.Add(1)
			go func(j int, a attempt) {
				defer wg.Done()
				<-start
				_, errs[j] = m.Apply(ctx, b.ID, a.actor, a.tr)
			}(j, a)
		}
		close(start)
		wg.Wait()

		var applied int
		for _, err := range errs {
			if err == nil {
				applied++
				continue
			}
			assert.True(t,
				errors.Is(err, domain.ErrConflictRetry) || errors.Is(err, domain.ErrInvalidTransition),
				"unexpected error: %v", err)
		}
		require.Equal(t, 1, applied)

		stored, err := bookings.GetByID(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), stored.Version)
		assert.True(t, stored.Status.IsTerminal() || stored.Status == domain.BookingStatusAccepted)
	}
}

func TestMachine_CreateSnapshotsCatalog(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	m := booking.NewMachine(repository.NewBookingRepository(db), repository.NewCatalogRepository(db), discardBus{})

	provider := domain.Actor{ID: uuid.New(), Role: domain.RoleProvider}
	customer := domain.Actor{ID: uuid.New(), Role: domain.RoleCustomer}
	svc := testutil.SeedService(t, db, provider.ID, "45.00", domain.CurrencyEUR)

	b, err := m.Create(ctx, customer, booking.CreateRequest{
		ServiceID:     svc.ID,
		ScheduledTime: time.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)

	testutil.SetServicePrice(t, db, svc.ID, "90.00")

	got, err := m.Get(ctx, provider, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "45.00", got.Price.StringFixed(2))
	assert.Equal(t, domain.CurrencyEUR, got.Currency)
	assert.Equal(t, provider.ID, got.ProviderID)

	list, err := m.List(ctx, customer, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, b.ID, list[0].ID)
}
