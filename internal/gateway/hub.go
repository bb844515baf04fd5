package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cypherlabdev/odds-aggregator-service/internal/models"
	"github.com/cypherlabdev/odds-aggregator-service/internal/telemetry"
)

// ErrHubStopped is returned by Broadcast once Run has returned
var ErrHubStopped = errors.New("hub stopped")

// HubConfig holds fan-out settings
type HubConfig struct {
	BroadcastBuffer int // diffs queued ahead of the fan-out loop, e.g., 1024
}

// Hub fans committed diffs out to subscribers. One goroutine owns the
// subscriber set, so every subscriber sees diffs in the order they were
// broadcast. A subscriber whose queue is full is evicted instead of blocking
// the loop.
type Hub struct {
	subscribers map[*Subscriber]struct{}
	register    chan *Subscriber
	unregister  chan *Subscriber
	broadcast   chan models.DiffMessage
	done        chan struct{}
	count       atomic.Int64
	metrics     *telemetry.Metrics
	logger      zerolog.Logger
}

// NewHub creates a new hub. Call Run to start fan-out.
func NewHub(cfg HubConfig, metrics *telemetry.Metrics, logger zerolog.Logger) *Hub {
	if cfg.BroadcastBuffer <= 0 {
		cfg.BroadcastBuffer = 1024
	}
	return &Hub{
		subscribers: make(map[*Subscriber]struct{}),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		broadcast:   make(chan models.DiffMessage, cfg.BroadcastBuffer),
		done:        make(chan struct{}),
		metrics:     metrics,
		logger:      logger.With().Str("component", "gateway_hub").Logger(),
	}
}

// Run owns the subscriber set until ctx is done, then closes every
// subscriber queue
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info().Msg("hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case s := <-h.register:
			h.subscribers[s] = struct{}{}
			h.setCount()
			h.logger.Info().
				Str("subscriber_id", s.ID).
				Int("subscribers", len(h.subscribers)).
				Msg("subscriber registered")

		case s := <-h.unregister:
			if _, ok := h.subscribers[s]; ok {
				h.remove(s, closeNormal)
				h.logger.Info().
					Str("subscriber_id", s.ID).
					Int("subscribers", len(h.subscribers)).
					Msg("subscriber unregistered")
			}

		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

// Broadcast queues a diff for fan-out. It blocks only while the queue is
// full, never on a subscriber.
func (h *Hub) Broadcast(ctx context.Context, msg models.DiffMessage) error {
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}

	select {
	case h.broadcast <- msg:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish lets the hub stand in as the diff publisher on a single instance
func (h *Hub) Publish(ctx context.Context, msg models.DiffMessage) error {
	return h.Broadcast(ctx, msg)
}

// Register adds a subscriber. It is a no-op once the hub has stopped.
func (h *Hub) Register(s *Subscriber) {
	select {
	case h.register <- s:
	case <-h.done:
		s.close(closeShutdown)
	}
}

// Unregister removes a subscriber and closes its queue
func (h *Hub) Unregister(s *Subscriber) {
	select {
	case h.unregister <- s:
	case <-h.done:
	}
}

// SubscriberCount returns the number of registered subscribers
func (h *Hub) SubscriberCount() int {
	return int(h.count.Load())
}

func (h *Hub) fanOut(msg models.DiffMessage) {
	frame, err := json.Marshal(ServerMessage{
		Type:      MessageDiff,
		Diff:      &msg,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.logger.Error().Err(err).Str("key", msg.Key.String()).Msg("failed to encode diff frame")
		return
	}

	delivered := 0
	for s := range h.subscribers {
		if !s.Wants(msg.Key) {
			continue
		}
		if !s.TrySend(frame) {
			h.remove(s, closeEvicted)
			h.metrics.EvictedSubscribers.Inc()
			h.logger.Warn().
				Str("subscriber_id", s.ID).
				Str("key", msg.Key.String()).
				Int64("version", msg.Version).
				Msg("evicted slow subscriber")
			continue
		}
		delivered++
	}

	h.logger.Debug().
		Str("key", msg.Key.String()).
		Int64("version", msg.Version).
		Int("delivered", delivered).
		Msg("fanned out diff")
}

func (h *Hub) remove(s *Subscriber, reason closeReason) {
	delete(h.subscribers, s)
	s.close(reason)
	h.setCount()
}

func (h *Hub) setCount() {
	h.count.Store(int64(len(h.subscribers)))
	h.metrics.ActiveSubscribers.Set(float64(len(h.subscribers)))
}

func (h *Hub) shutdown() {
	h.logger.Info().Int("subscribers", len(h.subscribers)).Msg("hub shutting down")
	for s := range h.subscribers {
		delete(h.subscribers, s)
		s.close(closeShutdown)
	}
	h.setCount()
}
