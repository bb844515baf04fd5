package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Handler upgrades stream requests and attaches the connection to the hub.
// Every connection starts with a hello frame; clients treat it as a resync
// point and reload their snapshot through the read API.
type Handler struct {
	ctx      context.Context
	hub      *Hub
	auth     Authorizer
	cfg      SubscriberConfig
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates a stream handler. ctx bounds every connection it
// accepts, independent of the upgrade request.
func NewHandler(ctx context.Context, hub *Hub, auth Authorizer, cfg SubscriberConfig, logger zerolog.Logger) *Handler {
	return &Handler{
		ctx:  ctx,
		hub:  hub,
		auth: auth,
		cfg:  cfg.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// origin policy is enforced by the CORS layer in front of the gateway
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With().Str("component", "gateway_handler").Logger(),
	}
}

// ServeHTTP handles GET /api/v1/stream. An optional keys query parameter
// subscribes to a comma-separated key list on connect.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	granted, err := h.auth.Authorize(r)
	if err != nil {
		h.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("stream authorization failed")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	s := NewSubscriber(uuid.NewString(), conn, h.hub, granted, h.cfg, h.logger)

	var initial []string
	if raw := r.URL.Query().Get("keys"); raw != "" {
		initial = strings.Split(raw, ",")
	}
	accepted, rejected := s.Subscribe(initial)

	hello, err := json.Marshal(ServerMessage{
		Type:         MessageHello,
		SubscriberID: s.ID,
		Keys:         accepted,
		Rejected:     rejected,
		Timestamp:    time.Now().UTC(),
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to encode hello")
		conn.Close()
		return
	}
	// queued before registration so it precedes every diff
	s.TrySend(hello)

	h.hub.Register(s)

	go s.WritePump(h.ctx)
	go s.ReadPump(h.ctx)

	h.logger.Info().
		Str("subscriber_id", s.ID).
		Int("subscriptions", len(accepted)).
		Msg("stream connection established")
}
