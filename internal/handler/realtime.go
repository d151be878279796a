package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/josh-kwaku/servicehub/internal/domain"
	"github.com/josh-kwaku/servicehub/internal/logging"
	"github.com/josh-kwaku/servicehub/internal/notify"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type connectionRegistry interface {
	Register(ctx context.Context, credential, connID string) (*notify.Subscription, error)
	Unregister(identity uuid.UUID, connID string)
}

// RealtimeHandler upgrades authenticated clients to a websocket and streams
// the booking events addressed to them.
type RealtimeHandler struct {
	hub      connectionRegistry
	upgrader websocket.Upgrader
}

func NewRealtimeHandler(hub connectionRegistry) *RealtimeHandler {
	return &RealtimeHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

type realtimeMessage struct {
	Type  string                   `json:"type"`
	Event domain.NotificationEvent `json:"event"`
}

// Connect registers before upgrading so a bad credential is answered with a
// plain 401 instead of a half-open socket.
func (h *RealtimeHandler) Connect(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	credential := credentialFromRequest(r)
	if credential == "" {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	connID := uuid.NewString()
	sub, err := h.hub.Register(r.Context(), credential, connID)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			RespondAppError(w, ErrInvalidToken, nil)
			return
		}
		RespondDomainError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		h.hub.Unregister(sub.Identity, connID)
		return
	}

	log = log.With("user_id", sub.Identity, "conn_id", connID)
	done := make(chan struct{})
	go h.readPump(conn, done)
	h.writePump(conn, sub, done, log)

	h.hub.Unregister(sub.Identity, connID)
	conn.Close()
}

// readPump discards client frames and keeps the read deadline moving while
// pongs arrive. It closes done once the peer goes away.
func (h *RealtimeHandler) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *RealtimeHandler) writePump(conn *websocket.Conn, sub *notify.Subscription, done <-chan struct{}, log *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			log.Debug("realtime peer disconnected")
			return
		case event, ok := <-sub.Events():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(realtimeMessage{Type: "booking", Event: event}); err != nil {
				log.Debug("realtime write failed", "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug("realtime ping failed", "error", err)
				return
			}
		}
	}
}

// credentialFromRequest accepts a bearer header or a token query parameter,
// since browsers cannot set headers on a websocket handshake.
func credentialFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return token
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
