package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cypherlabdev/odds-aggregator-service/internal/models"
)

var testKey = models.CompoundKey{Sport: "nba", Market: "player_points", Scope: "pregame", Event: "*"}

type recordingHub struct {
	mu   sync.Mutex
	msgs []models.DiffMessage
}

func (h *recordingHub) Broadcast(_ context.Context, msg models.DiffMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, msg)
	return nil
}

func (h *recordingHub) received() []models.DiffMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.DiffMessage(nil), h.msgs...)
}

type testRelay struct {
	mr        *miniredis.Miniredis
	client    *redis.Client
	publisher *StreamPublisher
	hub       *recordingHub
	consumer  *StreamConsumer
}

func setupTestRelay(t *testing.T) *testRelay {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	hub := &recordingHub{}

	return &testRelay{
		mr:        mr,
		client:    client,
		publisher: NewStreamPublisher(client, StreamPublisherConfig{}, zerolog.Nop()),
		hub:       hub,
		consumer: NewStreamConsumer(client, StreamConsumerConfig{
			StartID: "0",
			Block:   50 * time.Millisecond,
		}, hub, zerolog.Nop()),
	}
}

func (r *testRelay) cleanup() {
	r.client.Close()
	r.mr.Close()
}

func TestRelay_PreservesOrder(t *testing.T) {
	r := setupTestRelay(t)
	defer r.cleanup()
	ctx := context.Background()

	for v := int64(1); v <= 5; v++ {
		require.NoError(t, r.publisher.Publish(ctx, models.DiffMessage{
			Key:     testKey,
			Version: v,
			Add:     []string{},
			Upd:     []string{"a"},
			Del:     []string{},
		}))
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- r.consumer.Run(runCtx) }()

	require.Eventually(t, func() bool { return len(r.hub.received()) == 5 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	for i, msg := range r.hub.received() {
		assert.Equal(t, testKey, msg.Key)
		assert.Equal(t, int64(i+1), msg.Version)
		assert.Equal(t, []string{"a"}, msg.Upd)
	}
}

func TestRelay_SkipsMalformedEntries(t *testing.T) {
	r := setupTestRelay(t)
	defer r.cleanup()
	ctx := context.Background()

	require.NoError(t, r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: DefaultStream,
		Values: map[string]interface{}{"data": "{not json"},
	}).Err())
	require.NoError(t, r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: DefaultStream,
		Values: map[string]interface{}{"other": "x"},
	}).Err())
	require.NoError(t, r.publisher.Publish(ctx, models.DiffMessage{Key: testKey, Version: 9, Del: []string{"z"}}))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go r.consumer.Run(runCtx)

	require.Eventually(t, func() bool { return len(r.hub.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(9), r.hub.received()[0].Version)
}

func TestStreamPublisher_StoreDown(t *testing.T) {
	r := setupTestRelay(t)
	defer r.client.Close()
	r.mr.Close()

	err := r.publisher.Publish(context.Background(), models.DiffMessage{Key: testKey, Version: 1})
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
}
