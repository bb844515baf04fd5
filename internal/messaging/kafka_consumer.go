package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/cypherlabdev/odds-aggregator-service/internal/models"
	"github.com/cypherlabdev/odds-aggregator-service/internal/service"
)

// messageReader is the part of *kafka.Reader the consumer uses
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Config() kafka.ReaderConfig
	Close() error
}

// KafkaConsumer consumes raw quote batches from Kafka and merges them into
// the snapshot store
type KafkaConsumer struct {
	reader    messageReader
	processor service.BatchProcessor
	cfg       KafkaConsumerConfig
	logger    zerolog.Logger
}

// KafkaConsumerConfig holds Kafka consumer configuration
type KafkaConsumerConfig struct {
	Brokers      []string      // e.g., ["localhost:9092"]
	Topic        string        // e.g., "raw_quotes"
	GroupID      string        // e.g., "odds-aggregator"
	MaxRetries   int           // attempts per message on retriable failures, e.g., 3
	RetryBackoff time.Duration // grows linearly per attempt, e.g., 500ms
}

// NewKafkaConsumer creates a new Kafka consumer
func NewKafkaConsumer(
	config KafkaConsumerConfig,
	processor service.BatchProcessor,
	logger zerolog.Logger,
) *KafkaConsumer {
	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = 500 * time.Millisecond
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        config.Brokers,
		Topic:          config.Topic,
		GroupID:        config.GroupID,
		MinBytes:       1e3,  // 1KB
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
	})

	return &KafkaConsumer{
		reader:    reader,
		processor: processor,
		cfg:       config,
		logger:    logger.With().Str("component", "kafka_consumer").Logger(),
	}
}

// Start begins consuming messages from Kafka
func (c *KafkaConsumer) Start(ctx context.Context) error {
	c.logger.Info().
		Str("topic", c.reader.Config().Topic).
		Str("group_id", c.reader.Config().GroupID).
		Msg("started consuming from Kafka")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("stopping Kafka consumer")
			return nil

		default:
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				c.logger.Error().Err(err).Msg("failed to fetch message")
				continue
			}

			// Group offsets are cumulative: moving past a failed message and
			// committing a later one would drop it. Hold here until it goes
			// through or the consumer stops.
			for !c.handleMessage(ctx, msg) {
				c.logger.Warn().
					Int64("offset", msg.Offset).
					Int("partition", msg.Partition).
					Msg("holding partition until message succeeds")
				select {
				case <-ctx.Done():
					c.logger.Info().Msg("stopping Kafka consumer")
					return nil
				case <-time.After(c.cfg.RetryBackoff * time.Duration(c.cfg.MaxRetries)):
				}
			}

			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				c.logger.Error().Err(err).Msg("failed to commit message")
			}
		}
	}
}

// handleMessage processes msg with retries and reports whether its offset
// may be committed. Batches that can never succeed are committed and skipped.
func (c *KafkaConsumer) handleMessage(ctx context.Context, msg kafka.Message) bool {
	for attempt := 1; ; attempt++ {
		err := c.processMessage(ctx, msg)
		if err == nil {
			return true
		}

		if errors.Is(err, models.ErrNormalization) {
			c.logger.Warn().
				Err(err).
				Int64("offset", msg.Offset).
				Str("key", string(msg.Key)).
				Msg("skipping unprocessable batch")
			return true
		}

		if attempt >= c.cfg.MaxRetries || ctx.Err() != nil {
			c.logger.Error().
				Err(err).
				Int64("offset", msg.Offset).
				Str("key", string(msg.Key)).
				Int("attempts", attempt).
				Msg("failed to process message")
			return false
		}

		select {
		case <-ctx.Done():
		case <-time.After(c.cfg.RetryBackoff * time.Duration(attempt)):
		}
	}
}

// processMessage decodes one RawBatch and hands it to the processor. The
// message key names the compound key when the payload omits it.
func (c *KafkaConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var batch models.RawBatch
	if err := json.Unmarshal(msg.Value, &batch); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w: %w", models.ErrNormalization, err)
	}

	if batch.Key == (models.CompoundKey{}) && len(msg.Key) > 0 {
		key, err := models.ParseCompoundKey(string(msg.Key))
		if err != nil {
			return fmt.Errorf("invalid message key: %w: %w", models.ErrNormalization, err)
		}
		batch.Key = key
	}

	c.logger.Debug().
		Int("records", len(batch.Records)).
		Str("batch_id", batch.ID).
		Str("key", batch.Key.String()).
		Msg("processing raw quote batch")

	result, err := c.processor.ProcessBatch(ctx, batch)
	if err != nil {
		return fmt.Errorf("failed to process batch: %w", err)
	}

	c.logger.Debug().
		Str("key", result.Key.String()).
		Int64("version", result.Version).
		Int("diff_size", result.Diff.Size()).
		Msg("processed raw quote batch")

	return nil
}

// Close closes the Kafka reader
func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
