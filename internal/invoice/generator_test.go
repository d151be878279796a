package invoice

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/servicehub/internal/artifact"
	"github.com/josh-kwaku/servicehub/internal/domain"
	"github.com/josh-kwaku/servicehub/internal/pricing"
	"github.com/josh-kwaku/servicehub/internal/repository"
	"github.com/josh-kwaku/servicehub/internal/testutil"
)

func setupGenerator(t *testing.T, db *sql.DB, fees *pricing.FeeSchedule) (*Generator, *recordingQueue) {
	t.Helper()

	store, err := artifact.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	queue := &recordingQueue{}
	g := NewGenerator(
		repository.NewInvoiceRepository(db),
		repository.NewBookingRepository(db),
		repository.NewPaymentRepository(db),
		store,
		fees,
		queue,
		db,
	)
	return g, queue
}

func seedSucceededPayment(t *testing.T, db *sql.DB, b *domain.Booking) *domain.Payment {
	t.Helper()

	p := &domain.Payment{
		ID:          uuid.New(),
		BookingID:   b.ID,
		ExternalRef: "gw_" + uuid.NewString(),
		Amount:      b.Price,
		Currency:    b.Currency,
		Outcome:     domain.PaymentOutcomeSucceeded,
		RecordedAt:  time.Now().UTC(),
	}
	payments := repository.NewPaymentRepository(db)
	err := repository.WithTx(context.Background(), db, func(tx *sql.Tx) error {
		return payments.Create(context.Background(), tx, p)
	})
	require.NoError(t, err)
	return p
}

func TestGenerator_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	fees, err := pricing.NewFeeSchedule(decimal.RequireFromString("2.00"), decimal.RequireFromString("0.10"))
	require.NoError(t, err)
	gen, queue := setupGenerator(t, db, fees)

	providerID, customerID := uuid.New(), uuid.New()
	svc := testutil.SeedService(t, db, providerID, "120.00", domain.CurrencyUSD)

	t.Run("concurrent generate yields one invoice", func(t *testing.T) {
		b := testutil.SeedBooking(t, db, svc, customerID, domain.BookingStatusPaid)
		p := seedSucceededPayment(t, db, b)

		const n = 10
		var wg sync.WaitGroup
		ids := make([]uuid.UUID, n)
		errs := make([]error, n)
		for i := range n {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				inv, err := gen.Generate(ctx, b.ID)
				errs[i] = err
				if err == nil {
					ids[i] = inv.ID
				}
			}(i)
		}
		wg.Wait()

		for i := range n {
			require.NoError(t, errs[i])
			assert.Equal(t, ids[0], ids[i])
		}
		assert.Equal(t, 1, testutil.CountInvoices(t, db, b.ID))

		inv, err := gen.Get(ctx, domain.Actor{ID: customerID, Role: domain.RoleCustomer}, ids[0])
		require.NoError(t, err)
		assert.Equal(t, p.ID, inv.PaymentID)
		assert.Equal(t, domain.ArtifactStatusPending, inv.ArtifactStatus)
		assert.True(t, decimal.RequireFromString("120.00").Equal(inv.Subtotal))
		assert.True(t, decimal.RequireFromString("14.00").Equal(inv.FeeAmount))
		assert.True(t, decimal.RequireFromString("134.00").Equal(inv.TotalAmount))
		assert.NotEmpty(t, queue.ids)
	})

	t.Run("totals ignore later catalog price changes", func(t *testing.T) {
		b := testutil.SeedBooking(t, db, svc, customerID, domain.BookingStatusPaid)
		seedSucceededPayment(t, db, b)

		testutil.SetServicePrice(t, db, svc.ID, "999.00")
		t.Cleanup(func() { testutil.SetServicePrice(t, db, svc.ID, "120.00") })

		inv, err := gen.Generate(ctx, b.ID)
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("120.00").Equal(inv.Subtotal))
	})

	t.Run("booking not paid", func(t *testing.T) {
		b := testutil.SeedBooking(t, db, svc, customerID, domain.BookingStatusPaymentPending)

		_, err := gen.Generate(ctx, b.ID)
		assert.ErrorIs(t, err, domain.ErrBookingNotEligible)
		assert.Equal(t, 0, testutil.CountInvoices(t, db, b.ID))
	})

	t.Run("paid without succeeded payment", func(t *testing.T) {
		b := testutil.SeedBooking(t, db, svc, customerID, domain.BookingStatusPaid)

		_, err := gen.Generate(ctx, b.ID)
		assert.ErrorIs(t, err, domain.ErrBookingNotEligible)
	})

	t.Run("unknown booking", func(t *testing.T) {
		_, err := gen.Generate(ctx, uuid.New())
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("non participant cannot read", func(t *testing.T) {
		b := testutil.SeedBooking(t, db, svc, customerID, domain.BookingStatusPaid)
		seedSucceededPayment(t, db, b)
		inv, err := gen.Generate(ctx, b.ID)
		require.NoError(t, err)

		_, err = gen.Get(ctx, domain.Actor{ID: uuid.New(), Role: domain.RoleCustomer}, inv.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		got, err := gen.GetForBooking(ctx, domain.Actor{ID: providerID, Role: domain.RoleProvider}, b.ID)
		require.NoError(t, err)
		assert.Equal(t, inv.ID, got.ID)

		_, _, err = gen.OpenArtifact(ctx, domain.Actor{ID: customerID, Role: domain.RoleCustomer}, inv.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound, "artifact not rendered yet")
	})
}

func TestGenerator_RenderPipeline(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	store, err := artifact.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	invoices := repository.NewInvoiceRepository(db)
	bookings := repository.NewBookingRepository(db)
	worker := NewWorker(invoices, bookings, NewPDFRenderer("ServiceHub"), store, slog.Default(), WorkerConfig{
		Workers:         1,
		MaxAttempts:     2,
		InitialInterval: time.Millisecond,
	})
	runWorker(t, worker)

	gen := NewGenerator(invoices, bookings, repository.NewPaymentRepository(db), store, &pricing.FeeSchedule{}, worker, db)

	customerID := uuid.New()
	svc := testutil.SeedService(t, db, uuid.New(), "80.00", domain.CurrencyEUR)
	b := testutil.SeedBooking(t, db, svc, customerID, domain.BookingStatusPaid)
	seedSucceededPayment(t, db, b)

	inv, err := gen.Generate(ctx, b.ID)
	require.NoError(t, err)

	customer := domain.Actor{ID: customerID, Role: domain.RoleCustomer}
	require.Eventually(t, func() bool {
		got, err := gen.Get(ctx, customer, inv.ID)
		return err == nil && got.ArtifactStatus == domain.ArtifactStatusReady
	}, 10*time.Second, 50*time.Millisecond)

	f, got, err := gen.OpenArtifact(ctx, customer, inv.ID)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, 1, got.RenderAttempts)

	head := make([]byte, 5)
	_, err = f.Read(head)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-", string(head))
}
