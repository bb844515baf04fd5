package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cypherlabdev/odds-aggregator-service/internal/models"
)

// SubscriberConfig holds per-connection limits
type SubscriberConfig struct {
	WriteWait      time.Duration // e.g., 10s
	PongWait       time.Duration // e.g., 60s
	PingPeriod     time.Duration // must be less than PongWait
	MaxMessageSize int64         // largest control frame accepted, e.g., 4096
	SendBuffer     int           // queued frames before eviction, e.g., 256
}

func (c SubscriberConfig) withDefaults() SubscriberConfig {
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = (c.PongWait * 9) / 10
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	return c
}

// unregisterer is the part of the hub a subscriber needs
type unregisterer interface {
	Unregister(s *Subscriber)
}

// Subscriber is one stream connection. Frames are queued by the hub and
// written by WritePump; control frames are handled by ReadPump.
type Subscriber struct {
	ID      string
	conn    *websocket.Conn
	hub     unregisterer
	granted KeySet
	cfg     SubscriberConfig

	keysMu sync.RWMutex
	keys   map[models.CompoundKey]struct{}

	sendMu sync.Mutex
	send   chan []byte
	closed bool
	reason closeReason

	logger zerolog.Logger
}

// NewSubscriber creates a subscriber with an empty subscription set
func NewSubscriber(id string, conn *websocket.Conn, hub unregisterer, granted KeySet, cfg SubscriberConfig, logger zerolog.Logger) *Subscriber {
	cfg = cfg.withDefaults()
	return &Subscriber{
		ID:      id,
		conn:    conn,
		hub:     hub,
		granted: granted,
		cfg:     cfg,
		keys:    make(map[models.CompoundKey]struct{}),
		send:    make(chan []byte, cfg.SendBuffer),
		logger:  logger.With().Str("subscriber_id", id).Logger(),
	}
}

// Wants reports whether the subscriber is subscribed to key
func (s *Subscriber) Wants(key models.CompoundKey) bool {
	s.keysMu.RLock()
	defer s.keysMu.RUnlock()
	_, ok := s.keys[key]
	return ok
}

// Subscribe adds every granted key and returns the accepted keys and the
// rejected raw values
func (s *Subscriber) Subscribe(raw []string) ([]models.CompoundKey, []string) {
	var accepted []models.CompoundKey
	var rejected []string

	s.keysMu.Lock()
	defer s.keysMu.Unlock()
	for _, r := range raw {
		key, err := models.ParseCompoundKey(r)
		if err != nil || !s.granted.Allows(key) {
			rejected = append(rejected, r)
			continue
		}
		s.keys[key] = struct{}{}
		accepted = append(accepted, key)
	}
	return accepted, rejected
}

// Unsubscribe drops keys; an empty list drops every subscription
func (s *Subscriber) Unsubscribe(raw []string) {
	s.keysMu.Lock()
	defer s.keysMu.Unlock()
	if len(raw) == 0 {
		s.keys = make(map[models.CompoundKey]struct{})
		return
	}
	for _, r := range raw {
		if key, err := models.ParseCompoundKey(r); err == nil {
			delete(s.keys, key)
		}
	}
}

// TrySend queues a frame without blocking. It returns false when the queue
// is full or already closed.
func (s *Subscriber) TrySend(frame []byte) bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// closeReason is the close frame sent once the queue is shut
type closeReason struct {
	code int
	text string
}

var (
	closeEvicted  = closeReason{code: websocket.CloseTryAgainLater, text: "evicted"}
	closeShutdown = closeReason{code: websocket.CloseGoingAway, text: "server shutting down"}
	closeNormal   = closeReason{code: websocket.CloseNormalClosure}
)

// close shuts the queue; WritePump then sends the reason's close frame and
// exits. Only the first reason sticks.
func (s *Subscriber) close(reason closeReason) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if !s.closed {
		s.closed = true
		s.reason = reason
		close(s.send)
	}
}

func (s *Subscriber) closeFrame() closeReason {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.reason
}

// ReadPump handles control frames until the connection fails
func (s *Subscriber) ReadPump(ctx context.Context) {
	defer func() {
		s.hub.Unregister(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(s.cfg.MaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		if ctx.Err() != nil {
			return
		}

		var msg ClientMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Msg("unexpected close")
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
		s.handle(msg)
	}
}

// WritePump writes queued frames and keep-alive pings until the queue is
// closed or a write fails
func (s *Subscriber) WritePump(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return

		case frame, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if !ok {
				reason := s.closeFrame()
				s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(reason.code, reason.text))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.Debug().Err(err).Msg("write failed")
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Subscriber) handle(msg ClientMessage) {
	switch msg.Type {
	case ClientSubscribe:
		accepted, rejected := s.Subscribe(msg.Keys)
		s.logger.Info().
			Int("accepted", len(accepted)).
			Strs("rejected", rejected).
			Msg("subscribed")
		s.reply(ServerMessage{Type: MessageSubscribed, Keys: accepted, Rejected: rejected})
	case ClientUnsubscribe:
		s.Unsubscribe(msg.Keys)
		s.reply(ServerMessage{Type: MessageSubscribed, Keys: s.subscriptions()})
	case ClientPing:
		s.reply(ServerMessage{Type: MessagePong})
	default:
		s.reply(ServerMessage{
			Type:  MessageError,
			Error: &ErrorPayload{Code: "unknown_message_type", Message: fmt.Sprintf("unknown message type: %s", msg.Type)},
		})
	}
}

func (s *Subscriber) subscriptions() []models.CompoundKey {
	s.keysMu.RLock()
	defer s.keysMu.RUnlock()
	keys := make([]models.CompoundKey, 0, len(s.keys))
	for k := range s.keys {
		keys = append(keys, k)
	}
	return keys
}

// reply queues a control response. A full queue drops it; the hub evicts on
// the next diff anyway.
func (s *Subscriber) reply(msg ServerMessage) {
	msg.Timestamp = time.Now().UTC()
	frame, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode reply")
		return
	}
	s.TrySend(frame)
}
