package streamclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cypherlabdev/odds-aggregator-service/internal/models"
)

// Conn is the read side of a push channel connection
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Dialer opens a push channel already subscribed to keys
type Dialer interface {
	Dial(ctx context.Context, keys []models.CompoundKey) (Conn, error)
}

// WebsocketDialer dials the gateway's stream endpoint. Keys travel in the
// query string so the subscription exists before the hello frame is sent.
type WebsocketDialer struct {
	URL    string // e.g., ws://localhost:8080/api/v1/stream
	Header http.Header
	Dialer *websocket.Dialer
}

// Dial implements Dialer
func (d WebsocketDialer) Dial(ctx context.Context, keys []models.CompoundKey) (Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stream url: %w", err)
	}
	if len(keys) > 0 {
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k.String()
		}
		q := u.Query()
		q.Set("keys", strings.Join(parts, ","))
		u.RawQuery = q.Encode()
	}

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), d.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial stream: %w", err)
	}
	return conn, nil
}

// Config holds subscriber settings
type Config struct {
	Keys     []models.CompoundKey
	Backoff  Backoff
	PageSize int

	// OnStateChange is called on every state transition
	OnStateChange func(State)
	// OnResync is called after every (re)connect once the cache is reloaded
	OnResync func()
}

// frame is the subset of a gateway frame the client reads
type frame struct {
	Type string              `json:"type"`
	Diff *models.DiffMessage `json:"diff,omitempty"`
}

// Client keeps a LocalCache in sync with the push channel, reconnecting with
// backoff until its context is cancelled
type Client struct {
	cfg    Config
	dialer Dialer
	cache  *LocalCache
	state  atomic.Int32
	logger zerolog.Logger
}

// New creates a client. Run starts it.
func New(cfg Config, dialer Dialer, resolver Resolver, logger zerolog.Logger) *Client {
	c := &Client{
		cfg:    cfg,
		dialer: dialer,
		cache:  NewLocalCache(resolver, cfg.PageSize, 0),
		logger: logger.With().Str("component", "stream_client").Logger(),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// Cache returns the client's local cache
func (c *Client) Cache() *LocalCache {
	return c.cache
}

// State returns the current connection state
func (c *Client) State() State {
	return State(c.state.Load())
}

// Run connects and serves until ctx is done. Every dial attempt passes
// through StateConnecting; the backoff wait is StateReconnecting. It always
// returns nil after moving to StateClosed.
func (c *Client) Run(ctx context.Context) error {
	defer c.setState(StateClosed)

	for {
		c.setState(StateConnecting)
		conn, err := c.dialer.Dial(ctx, c.cfg.Keys)
		if err == nil {
			c.cfg.Backoff.Reset()
			c.setState(StateOpen)
			err = c.serve(ctx, conn)
			conn.Close()
		}
		if ctx.Err() != nil {
			return nil
		}

		c.setState(StateReconnecting)
		delay := c.cfg.Backoff.Next()
		c.logger.Warn().Err(err).Dur("retry_in", delay).Msg("stream disconnected")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (c *Client) serve(ctx context.Context, conn Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read frame: %w", err)
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn().Err(err).Msg("skipping undecodable frame")
			continue
		}

		switch f.Type {
		case "hello":
			if err := c.resyncAll(ctx); err != nil {
				return err
			}
		case "diff":
			if f.Diff == nil {
				continue
			}
			if err := c.applyDiff(ctx, *f.Diff); err != nil {
				return err
			}
		}
	}
}

func (c *Client) resyncAll(ctx context.Context) error {
	for _, key := range c.cfg.Keys {
		if err := c.cache.Resync(ctx, key); err != nil {
			return fmt.Errorf("failed to resync: %w", err)
		}
	}
	c.logger.Info().Int("keys", len(c.cfg.Keys)).Msg("resynced")
	if c.cfg.OnResync != nil {
		c.cfg.OnResync()
	}
	return nil
}

func (c *Client) applyDiff(ctx context.Context, msg models.DiffMessage) error {
	err := c.cache.Apply(ctx, msg)
	if !errors.Is(err, ErrVersionGap) {
		return err
	}

	c.logger.Warn().Err(err).Str("key", msg.Key.String()).Msg("diff out of sequence, resyncing key")
	if err := c.cache.Resync(ctx, msg.Key); err != nil {
		return fmt.Errorf("failed to resync: %w", err)
	}
	return nil
}

func (c *Client) setState(s State) {
	if State(c.state.Swap(int32(s))) == s {
		return
	}
	c.logger.Debug().Str("state", s.String()).Msg("state changed")
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(s)
	}
}
