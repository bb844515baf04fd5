package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cypherlabdev/odds-aggregator-service/internal/models"
)

// DefaultStream is the Redis stream committed diffs are relayed through
const DefaultStream = "diffs.committed"

// StreamPublisherConfig holds relay publisher settings
type StreamPublisherConfig struct {
	Stream string
	MaxLen int64 // approximate stream cap, e.g., 10000
}

// StreamPublisher appends committed diffs to a Redis stream so gateway
// processes other than the ingesting one can fan them out
type StreamPublisher struct {
	client redis.UniversalClient
	cfg    StreamPublisherConfig
	logger zerolog.Logger
}

// NewStreamPublisher creates a new stream publisher
func NewStreamPublisher(client redis.UniversalClient, cfg StreamPublisherConfig, logger zerolog.Logger) *StreamPublisher {
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = 10000
	}
	return &StreamPublisher{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "relay_publisher").Logger(),
	}
}

// Publish implements the diff publisher
func (p *StreamPublisher) Publish(ctx context.Context, msg models.DiffMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal diff: %w", err)
	}

	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.cfg.Stream,
		MaxLen: p.cfg.MaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"key":  msg.Key.String(),
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to append diff: %w: %w", models.ErrStoreUnavailable, err)
	}

	p.logger.Debug().
		Str("stream_id", id).
		Str("key", msg.Key.String()).
		Int64("version", msg.Version).
		Msg("relayed diff")

	return nil
}
