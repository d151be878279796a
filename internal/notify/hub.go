package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/josh-kwaku/servicehub/internal/domain"
	"github.com/josh-kwaku/servicehub/internal/logging"
	"github.com/josh-kwaku/servicehub/internal/metrics"
)

const defaultBuffer = 32

type verifier interface {
	Verify(credential string) (domain.Actor, error)
}

// broadcaster fans an event out to every API instance. Each instance hands
// what it receives back to its own Hub through Deliver. Broadcast must not
// block.
type broadcaster interface {
	Broadcast(event domain.NotificationEvent) error
}

// Subscription is one registered connection. Events arrive in publish order
// and the channel is closed on Unregister.
type Subscription struct {
	Identity uuid.UUID
	Role     domain.Role
	ConnID   string
	events   chan domain.NotificationEvent
}

func (s *Subscription) Events() <-chan domain.NotificationEvent {
	return s.events
}

// Hub keeps one room per identity. A room holds every live connection for that
// identity.
type Hub struct {
	verifier verifier
	buffer   int
	logger   *slog.Logger

	relayMu sync.RWMutex
	relay   broadcaster

	mu    sync.RWMutex
	rooms map[uuid.UUID]map[string]*Subscription
}

func NewHub(v verifier, buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		verifier: v,
		buffer:   buffer,
		logger:   logger,
		rooms:    make(map[uuid.UUID]map[string]*Subscription),
	}
}

// SetRelay routes Publish through a cross-instance broadcaster. A nil relay
// switches the hub back to local delivery.
func (h *Hub) SetRelay(r broadcaster) {
	h.relayMu.Lock()
	h.relay = r
	h.relayMu.Unlock()
}

type runnableRelay interface {
	broadcaster
	Run(ctx context.Context) error
	DeliverPending()
}

// RunRelay routes Publish through r for as long as r.Run keeps going. When Run
// fails the hub goes back to local delivery, including whatever r still had
// queued.
func (h *Hub) RunRelay(ctx context.Context, r runnableRelay) error {
	h.SetRelay(r)
	err := r.Run(ctx)
	if err != nil {
		h.SetRelay(nil)
		r.DeliverPending()
		h.logger.Error("notification relay stopped, delivering locally only", "error", err)
	}
	return err
}

func (h *Hub) Register(ctx context.Context, credential, connID string) (*Subscription, error) {
	actor, err := h.verifier.Verify(credential)
	if err != nil {
		return nil, fmt.Errorf("Register: %w", err)
	}
	if connID == "" {
		return nil, fmt.Errorf("Register: empty connection id: %w", domain.ErrInvalidRequest)
	}

	sub := &Subscription{
		Identity: actor.ID,
		Role:     actor.Role,
		ConnID:   connID,
		events:   make(chan domain.NotificationEvent, h.buffer),
	}

	h.mu.Lock()
	room, ok := h.rooms[actor.ID]
	if !ok {
		room = make(map[string]*Subscription)
		h.rooms[actor.ID] = room
	}
	if _, taken := room[connID]; taken {
		h.mu.Unlock()
		return nil, fmt.Errorf("Register: connection %s already registered: %w", connID, domain.ErrInvalidRequest)
	}
	room[connID] = sub
	h.mu.Unlock()

	metrics.ConnectionOpened()
	logging.FromContext(ctx).Info("realtime connection registered",
		"user_id", actor.ID,
		"conn_id", connID,
	)
	return sub, nil
}

// Unregister removes the connection and closes its stream. Unknown connections
// are ignored.
func (h *Hub) Unregister(identity uuid.UUID, connID string) {
	h.mu.Lock()
	room := h.rooms[identity]
	sub, ok := room[connID]
	if ok {
		delete(room, connID)
		if len(room) == 0 {
			delete(h.rooms, identity)
		}
		close(sub.events)
	}
	h.mu.Unlock()

	if ok {
		metrics.ConnectionClosed()
		h.logger.Info("realtime connection unregistered", "user_id", identity, "conn_id", connID)
	}
}

// Publish never blocks on consumers or on the relay, and never fails the
// caller.
func (h *Hub) Publish(ctx context.Context, event domain.NotificationEvent) {
	h.relayMu.RLock()
	relay := h.relay
	h.relayMu.RUnlock()

	if relay == nil {
		h.Deliver(event)
		return
	}
	if err := relay.Broadcast(event); err != nil {
		metrics.RecordNotification("relay_dropped")
		logging.FromContext(ctx).Warn("notification dropped before relay",
			"booking_id", event.BookingID,
			"transition", event.Transition,
			"error", err,
		)
	}
}

// Deliver hands event to the local connections of its recipients.
func (h *Hub) Deliver(event domain.NotificationEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var targets int
	for _, recipient := range dedupe(event.Recipients) {
		for _, sub := range h.rooms[recipient] {
			targets++
			select {
			case sub.events <- event:
				metrics.RecordNotification("delivered")
			default:
				metrics.RecordNotification("dropped")
				h.logger.Warn("notification dropped",
					"booking_id", event.BookingID,
					"user_id", recipient,
					"conn_id", sub.ConnID,
					"error", fmt.Errorf("buffer full: %w", domain.ErrNotificationDelivery),
				)
			}
		}
	}

	if targets == 0 {
		metrics.RecordNotification("no_recipient")
		h.logger.Debug("notification had no live connection",
			"booking_id", event.BookingID,
			"transition", event.Transition,
		)
	}
}

// Connections returns the number of live connections for identity.
func (h *Hub) Connections(identity uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[identity])
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
