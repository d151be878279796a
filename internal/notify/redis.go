package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/josh-kwaku/servicehub/internal/domain"
	"github.com/josh-kwaku/servicehub/internal/metrics"
)

const (
	DefaultRelayChannel = "servicehub:booking-events"

	defaultRelayBacklog   = 256
	defaultPublishTimeout = 2 * time.Second
)

func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("NewRedisClient: parse url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("NewRedisClient: ping: %w", err)
	}
	return rdb, nil
}

type deliverer interface {
	Deliver(event domain.NotificationEvent)
}

// relayMessage carries recipients explicitly; they are not part of the
// client-facing event encoding.
type relayMessage struct {
	Recipients []uuid.UUID               `json:"recipients"`
	Event      domain.NotificationEvent `json:"event"`
}

// RedisRelay shares booking events between API instances over Redis pub/sub.
// Every instance, including the publisher, receives the message and delivers
// it to its own connections. Outgoing events wait in a bounded backlog that a
// single goroutine drains in order.
type RedisRelay struct {
	client         *redis.Client
	channel        string
	local          deliverer
	logger         *slog.Logger
	ready          chan struct{}
	outbound       chan domain.NotificationEvent
	publishTimeout time.Duration
}

func NewRedisRelay(client *redis.Client, channel string, local deliverer, logger *slog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisRelay{
		client:         client,
		channel:        channel,
		local:          local,
		logger:         logger,
		ready:          make(chan struct{}),
		outbound:       make(chan domain.NotificationEvent, defaultRelayBacklog),
		publishTimeout: defaultPublishTimeout,
	}
}

// Broadcast queues event for publishing and returns immediately. It fails only
// when the backlog is full.
func (r *RedisRelay) Broadcast(event domain.NotificationEvent) error {
	select {
	case r.outbound <- event:
		return nil
	default:
		return fmt.Errorf("Broadcast: relay backlog full: %w", domain.ErrNotificationDelivery)
	}
}

func (r *RedisRelay) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.DeliverPending()
			return
		case event := <-r.outbound:
			r.publish(ctx, event)
		}
	}
}

// publish falls back to local delivery when Redis cannot take the event, so
// this instance's connections still see it.
func (r *RedisRelay) publish(ctx context.Context, event domain.NotificationEvent) {
	data, err := json.Marshal(relayMessage{Recipients: event.Recipients, Event: event})
	if err == nil {
		pubCtx, cancel := context.WithTimeout(ctx, r.publishTimeout)
		err = r.client.Publish(pubCtx, r.channel, data).Err()
		cancel()
	}
	if err == nil {
		return
	}

	metrics.RecordNotification("relay_failed")
	r.logger.Warn("relay publish failed, delivering locally",
		"booking_id", event.BookingID,
		"error", err,
	)
	r.local.Deliver(event)
}

// DeliverPending hands every queued event to local connections.
func (r *RedisRelay) DeliverPending() {
	for {
		select {
		case event := <-r.outbound:
			r.local.Deliver(event)
		default:
			return
		}
	}
}

// Ready is closed once the subscription is confirmed by Redis.
func (r *RedisRelay) Ready() <-chan struct{} {
	return r.ready
}

// Run subscribes, publishes queued events and delivers relayed ones until ctx
// is cancelled. Events still queued when Run returns are delivered locally.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		r.DeliverPending()
		return fmt.Errorf("Run: subscribe %s: %w", r.channel, err)
	}
	close(r.ready)
	r.logger.Info("notification relay started", "channel", r.channel)

	drainCtx, stopDrain := context.WithCancel(ctx)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		r.drain(drainCtx)
	}()
	defer func() {
		stopDrain()
		<-drained
	}()

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("notification relay stopped")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("Run: subscription closed")
			}
			var rm relayMessage
			if err := json.Unmarshal([]byte(msg.Payload), &rm); err != nil {
				r.logger.Error("malformed relay message", "channel", msg.Channel, "error", err)
				continue
			}
			rm.Event.Recipients = rm.Recipients
			r.local.Deliver(rm.Event)
		}
	}
}

func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
