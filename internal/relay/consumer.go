package relay

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cypherlabdev/odds-aggregator-service/internal/models"
)

// Broadcaster receives relayed diffs, normally the local gateway hub
type Broadcaster interface {
	Broadcast(ctx context.Context, msg models.DiffMessage) error
}

// StreamConsumerConfig holds relay consumer settings
type StreamConsumerConfig struct {
	Stream  string
	StartID string        // "$" to read only new entries
	Count   int64         // e.g., 100
	Block   time.Duration // e.g., 1s
}

// StreamConsumer tails the diff stream and hands every entry to the hub.
// Each gateway process reads the whole stream, so no consumer group is used.
type StreamConsumer struct {
	client redis.UniversalClient
	hub    Broadcaster
	cfg    StreamConsumerConfig
	logger zerolog.Logger
}

// NewStreamConsumer creates a new stream consumer
func NewStreamConsumer(client redis.UniversalClient, cfg StreamConsumerConfig, hub Broadcaster, logger zerolog.Logger) *StreamConsumer {
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.StartID == "" {
		cfg.StartID = "$"
	}
	if cfg.Count <= 0 {
		cfg.Count = 100
	}
	if cfg.Block <= 0 {
		cfg.Block = time.Second
	}
	return &StreamConsumer{
		client: client,
		hub:    hub,
		cfg:    cfg,
		logger: logger.With().Str("component", "relay_consumer").Logger(),
	}
}

// Run reads the stream until ctx is done
func (c *StreamConsumer) Run(ctx context.Context) error {
	c.logger.Info().Str("stream", c.cfg.Stream).Msg("started relay consumer")

	lastID := c.cfg.StartID
	for {
		if ctx.Err() != nil {
			c.logger.Info().Msg("stopping relay consumer")
			return nil
		}

		streams, err := c.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{c.cfg.Stream, lastID},
			Count:   c.cfg.Count,
			Block:   c.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error().Err(err).Msg("failed to read diff stream")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, entry := range stream.Messages {
				lastID = entry.ID
				c.handle(ctx, entry)
			}
		}
	}
}

func (c *StreamConsumer) handle(ctx context.Context, entry redis.XMessage) {
	data, ok := entry.Values["data"].(string)
	if !ok {
		c.logger.Warn().Str("stream_id", entry.ID).Msg("skipping entry without data")
		return
	}

	var msg models.DiffMessage
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		c.logger.Warn().Err(err).Str("stream_id", entry.ID).Msg("skipping undecodable diff")
		return
	}

	if err := c.hub.Broadcast(ctx, msg); err != nil {
		c.logger.Error().
			Err(err).
			Str("key", msg.Key.String()).
			Int64("version", msg.Version).
			Msg("failed to broadcast relayed diff")
	}
}
