package notify

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/servicehub/internal/domain"
)

// silentRedis accepts connections and never answers.
func silentRedis(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
	return ln.Addr().String()
}

// closedPort returns an address nothing listens on.
func closedPort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func shortTimeoutClient(t *testing.T, addr string) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  200 * time.Millisecond,
		ReadTimeout:  200 * time.Millisecond,
		WriteTimeout: 200 * time.Millisecond,
		MaxRetries:   -1,
	})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestPublish_UnresponsiveRelayDoesNotBlock(t *testing.T) {
	hub, customer, provider := newTestHub(t, 4)
	relay := NewRedisRelay(shortTimeoutClient(t, silentRedis(t)), "test-events", hub, slog.Default())
	hub.SetRelay(relay)

	start := time.Now()
	for i := 0; i < 10; i++ {
		hub.Publish(context.Background(), bookingEvent(customer.ID, provider.ID, int64(i)))
	}

	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Len(t, relay.outbound, 10)
}

func TestRedisRelay_BacklogFullIsReported(t *testing.T) {
	hub, customer, provider := newTestHub(t, 4)
	relay := NewRedisRelay(shortTimeoutClient(t, silentRedis(t)), "test-events", hub, slog.Default())
	relay.outbound = make(chan domain.NotificationEvent, 1)

	require.NoError(t, relay.Broadcast(bookingEvent(customer.ID, provider.ID, 1)))
	err := relay.Broadcast(bookingEvent(customer.ID, provider.ID, 2))
	require.ErrorIs(t, err, domain.ErrNotificationDelivery)
}

func TestRedisRelay_FailedPublishDeliversLocally(t *testing.T) {
	hub, customer, provider := newTestHub(t, 4)
	relay := NewRedisRelay(shortTimeoutClient(t, silentRedis(t)), "test-events", hub, slog.Default())
	relay.publishTimeout = 100 * time.Millisecond

	sub, err := hub.Register(context.Background(), "customer-token", "c1")
	require.NoError(t, err)

	e := bookingEvent(customer.ID, provider.ID, 4)
	relay.publish(context.Background(), e)

	assert.Equal(t, e.BookingID, receive(t, sub).BookingID)
}

func TestRunRelay_FallsBackToLocalWhenSubscribeFails(t *testing.T) {
	hub, customer, provider := newTestHub(t, 4)
	relay := NewRedisRelay(shortTimeoutClient(t, closedPort(t)), "test-events", hub, slog.Default())
	ctx := context.Background()

	sub, err := hub.Register(ctx, "customer-token", "c1")
	require.NoError(t, err)

	queued := bookingEvent(customer.ID, provider.ID, 1)
	require.NoError(t, relay.Broadcast(queued))

	require.Error(t, hub.RunRelay(ctx, relay))

	assert.Equal(t, queued.BookingID, receive(t, sub).BookingID)

	after := bookingEvent(customer.ID, provider.ID, 2)
	hub.Publish(ctx, after)
	assert.Equal(t, after.BookingID, receive(t, sub).BookingID)

	select {
	case <-relay.Ready():
		t.Fatal("relay reported ready without a subscription")
	default:
	}
}
