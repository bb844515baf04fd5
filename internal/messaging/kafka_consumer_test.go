package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/cypherlabdev/odds-aggregator-service/internal/mocks"
	"github.com/cypherlabdev/odds-aggregator-service/internal/models"
)

var testKey = models.CompoundKey{Sport: "nba", Market: "player_points", Scope: "pregame", Event: "*"}

// testKafkaConsumerSetup is a helper struct to hold test dependencies
type testKafkaConsumerSetup struct {
	mockProcessor *mocks.MockBatchProcessor
	consumer      *KafkaConsumer
	ctrl          *gomock.Controller
}

// setupTestKafkaConsumer creates a test consumer with a mocked processor
func setupTestKafkaConsumer(t *testing.T) *testKafkaConsumerSetup {
	ctrl := gomock.NewController(t)
	mockProcessor := mocks.NewMockBatchProcessor(ctrl)

	consumer := NewKafkaConsumer(KafkaConsumerConfig{
		Brokers:      []string{"localhost:9092"},
		Topic:        "raw_quotes",
		GroupID:      "test-group",
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	}, mockProcessor, zerolog.Nop())

	return &testKafkaConsumerSetup{
		mockProcessor: mockProcessor,
		consumer:      consumer,
		ctrl:          ctrl,
	}
}

// cleanup cleans up test resources
func (s *testKafkaConsumerSetup) cleanup() {
	s.consumer.Close()
	s.ctrl.Finish()
}

func rawBatchMessage(t *testing.T, batch models.RawBatch) kafka.Message {
	value, err := json.Marshal(batch)
	require.NoError(t, err)
	return kafka.Message{Key: []byte(testKey.String()), Value: value, Offset: 42}
}

func TestNewKafkaConsumer(t *testing.T) {
	setup := setupTestKafkaConsumer(t)
	defer setup.cleanup()

	assert.NotNil(t, setup.consumer.reader)
	assert.Equal(t, "raw_quotes", setup.consumer.reader.Config().Topic)
	assert.Equal(t, "test-group", setup.consumer.reader.Config().GroupID)
	assert.Equal(t, []string{"localhost:9092"}, setup.consumer.reader.Config().Brokers)
}

func TestNewKafkaConsumer_Defaults(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	consumer := NewKafkaConsumer(KafkaConsumerConfig{
		Brokers: []string{"localhost:9092"},
		Topic:   "raw_quotes",
		GroupID: "test-group",
	}, mocks.NewMockBatchProcessor(ctrl), zerolog.Nop())
	defer consumer.Close()

	assert.Equal(t, 1, consumer.cfg.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, consumer.cfg.RetryBackoff)
}

func TestHandleMessage_Success(t *testing.T) {
	setup := setupTestKafkaConsumer(t)
	defer setup.cleanup()

	line := 22.5
	batch := models.RawBatch{
		ID:  "batch-1",
		Key: testKey,
		Records: []models.RawQuote{{
			Book:    "fanduel",
			EventID: "evt-1",
			Kind:    models.KindOverUnder,
			Side:    "over",
			Price:   json.RawMessage(`-110`),
			Line:    &line,
		}},
	}

	setup.mockProcessor.EXPECT().
		ProcessBatch(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, got models.RawBatch) (*models.CommitResult, error) {
			assert.Equal(t, "batch-1", got.ID)
			assert.Equal(t, testKey, got.Key)
			require.Len(t, got.Records, 1)
			assert.Equal(t, "fanduel", got.Records[0].Book)
			assert.JSONEq(t, `-110`, string(got.Records[0].Price))
			return &models.CommitResult{Key: testKey, Version: 1}, nil
		})

	assert.True(t, setup.consumer.handleMessage(context.Background(), rawBatchMessage(t, batch)))
}

func TestHandleMessage_KeyFromMessageKey(t *testing.T) {
	setup := setupTestKafkaConsumer(t)
	defer setup.cleanup()

	msg := kafka.Message{Key: []byte("NBA:player_points:pregame"), Value: []byte(`{"batch_id":"b","records":[]}`)}

	setup.mockProcessor.EXPECT().
		ProcessBatch(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, got models.RawBatch) (*models.CommitResult, error) {
			assert.Equal(t, testKey, got.Key)
			return &models.CommitResult{Key: testKey}, nil
		})

	assert.True(t, setup.consumer.handleMessage(context.Background(), msg))
}

func TestHandleMessage_UnprocessableIsCommitted(t *testing.T) {
	setup := setupTestKafkaConsumer(t)
	defer setup.cleanup()
	ctx := context.Background()

	// undecodable payloads and bad keys never reach the processor
	assert.True(t, setup.consumer.handleMessage(ctx, kafka.Message{Value: []byte(`{not json`)}))
	assert.True(t, setup.consumer.handleMessage(ctx, kafka.Message{Key: []byte("bad"), Value: []byte(`{}`)}))

	setup.mockProcessor.EXPECT().
		ProcessBatch(gomock.Any(), gomock.Any()).
		Return(nil, models.ErrNormalization).
		Times(1)
	assert.True(t, setup.consumer.handleMessage(ctx, rawBatchMessage(t, models.RawBatch{Key: testKey})))
}

func TestHandleMessage_RetriesThenLeavesUncommitted(t *testing.T) {
	setup := setupTestKafkaConsumer(t)
	defer setup.cleanup()

	down := errors.Join(models.ErrStoreUnavailable, errors.New("connection refused"))
	setup.mockProcessor.EXPECT().
		ProcessBatch(gomock.Any(), gomock.Any()).
		Return(nil, down).
		Times(3)

	assert.False(t, setup.consumer.handleMessage(context.Background(), rawBatchMessage(t, models.RawBatch{Key: testKey})))
}

func TestHandleMessage_RecoversOnRetry(t *testing.T) {
	setup := setupTestKafkaConsumer(t)
	defer setup.cleanup()

	gomock.InOrder(
		setup.mockProcessor.EXPECT().ProcessBatch(gomock.Any(), gomock.Any()).Return(nil, models.ErrStoreUnavailable),
		setup.mockProcessor.EXPECT().ProcessBatch(gomock.Any(), gomock.Any()).Return(&models.CommitResult{Key: testKey, Version: 3}, nil),
	)

	assert.True(t, setup.consumer.handleMessage(context.Background(), rawBatchMessage(t, models.RawBatch{Key: testKey})))
}

func TestHandleMessage_CancelledContextStopsRetrying(t *testing.T) {
	setup := setupTestKafkaConsumer(t)
	defer setup.cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	setup.mockProcessor.EXPECT().
		ProcessBatch(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, models.RawBatch) (*models.CommitResult, error) {
			cancel()
			return nil, models.ErrStoreUnavailable
		}).
		Times(1)

	assert.False(t, setup.consumer.handleMessage(ctx, rawBatchMessage(t, models.RawBatch{Key: testKey})))
}

// fakeReader serves queued messages and records commits
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	fetched   []int64
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.fetched = append(r.fetched, msg.Offset)
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Config() kafka.ReaderConfig {
	return kafka.ReaderConfig{Topic: "raw_quotes", GroupID: "test-group"}
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) offsets() (fetched, committed []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.fetched...), append([]int64(nil), r.committed...)
}

// useReader swaps the broker-backed reader for r
func (s *testKafkaConsumerSetup) useReader(r messageReader) {
	s.consumer.reader.Close()
	s.consumer.reader = r
}

func messageAt(t *testing.T, offset int64) kafka.Message {
	msg := rawBatchMessage(t, models.RawBatch{Key: testKey})
	msg.Offset = offset
	return msg
}

func TestKafkaConsumer_FailedMessageBlocksLaterCommits(t *testing.T) {
	setup := setupTestKafkaConsumer(t)
	defer setup.cleanup()

	reader := &fakeReader{queue: []kafka.Message{messageAt(t, 5), messageAt(t, 6)}}
	setup.useReader(reader)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	setup.mockProcessor.EXPECT().
		ProcessBatch(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, models.RawBatch) (*models.CommitResult, error) {
			calls++
			if calls == 7 {
				cancel()
			}
			return nil, models.ErrStoreUnavailable
		}).
		MinTimes(7)

	done := make(chan error, 1)
	go func() { done <- setup.consumer.Start(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Consumer did not stop within timeout")
	}

	fetched, committed := reader.offsets()
	assert.Equal(t, []int64{5}, fetched)
	assert.Empty(t, committed)
}

func TestKafkaConsumer_CommitsInOrderAfterRecovery(t *testing.T) {
	setup := setupTestKafkaConsumer(t)
	defer setup.cleanup()

	reader := &fakeReader{queue: []kafka.Message{messageAt(t, 5), messageAt(t, 6)}}
	setup.useReader(reader)

	ok := &models.CommitResult{Key: testKey, Version: 1}
	gomock.InOrder(
		setup.mockProcessor.EXPECT().ProcessBatch(gomock.Any(), gomock.Any()).Return(nil, models.ErrStoreUnavailable).Times(4),
		setup.mockProcessor.EXPECT().ProcessBatch(gomock.Any(), gomock.Any()).Return(ok, nil).Times(2),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- setup.consumer.Start(ctx) }()

	require.Eventually(t, func() bool {
		_, committed := reader.offsets()
		return len(committed) == 2
	}, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	fetched, committed := reader.offsets()
	assert.Equal(t, []int64{5, 6}, fetched)
	assert.Equal(t, []int64{5, 6}, committed)
}

// TestKafkaConsumer_ContextCancellation tests context cancellation handling
func TestKafkaConsumer_ContextCancellation(t *testing.T) {
	setup := setupTestKafkaConsumer(t)
	defer setup.cleanup()

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)
	go func() {
		done <- setup.consumer.Start(ctx)
	}()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Consumer did not stop within timeout")
	}
}
