package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/cypherlabdev/odds-aggregator-service/internal/mocks"
	"github.com/cypherlabdev/odds-aggregator-service/internal/models"
	"github.com/cypherlabdev/odds-aggregator-service/internal/snapshot"
	"github.com/cypherlabdev/odds-aggregator-service/internal/telemetry"
)

func seedStore(t *testing.T, n int) (*snapshot.MemoryStore, []string) {
	store := snapshot.NewMemoryStore(zerolog.Nop())
	rows := make(map[string]*models.LineAggregate, n)
	sids := make([]string, n)
	for i := 0; i < n; i++ {
		sid := fmt.Sprintf("%016x", uint64(i)*0x9e3779b97f4a7c15)
		sids[i] = sid
		rows[sid] = &models.LineAggregate{SID: sid, Key: testKey, Kind: models.KindOverUnder}
	}
	_, err := store.Commit(context.Background(), testKey, 0, rows, nil)
	require.NoError(t, err)
	return store, sids
}

func TestList_250SidsInThreePages(t *testing.T) {
	store, _ := seedStore(t, 250)
	reader := NewReaderService(ReaderConfig{DefaultPageSize: 100, MaxPageSize: 500}, store, telemetry.NewNop(), zerolog.Nop())
	ctx := context.Background()

	seen := make(map[string]bool)
	cursor := ""
	var sizes []int
	var last *models.Page
	for i := 0; i < 3; i++ {
		page, err := reader.List(ctx, testKey, cursor, 100)
		require.NoError(t, err)
		sizes = append(sizes, len(page.SIDs))
		for _, sid := range page.SIDs {
			assert.False(t, seen[sid], "duplicate sid %s", sid)
			seen[sid] = true
		}
		last = page
		if page.NextCursor == nil {
			break
		}
		assert.Equal(t, page.SIDs[len(page.SIDs)-1], *page.NextCursor)
		cursor = *page.NextCursor
	}

	assert.Equal(t, []int{100, 100, 50}, sizes)
	assert.Len(t, seen, 250)
	assert.Nil(t, last.NextCursor)
}

func TestList_ExactPageHasNoCursor(t *testing.T) {
	store, _ := seedStore(t, 100)
	reader := NewReaderService(ReaderConfig{}, store, telemetry.NewNop(), zerolog.Nop())

	page, err := reader.List(context.Background(), testKey, "", 100)
	require.NoError(t, err)
	assert.Len(t, page.SIDs, 100)
	assert.Nil(t, page.NextCursor)
}

func TestList_PageSizeBounds(t *testing.T) {
	store, _ := seedStore(t, 40)
	reader := NewReaderService(ReaderConfig{DefaultPageSize: 10, MaxPageSize: 25}, store, telemetry.NewNop(), zerolog.Nop())
	ctx := context.Background()

	page, err := reader.List(ctx, testKey, "", 0)
	require.NoError(t, err)
	assert.Len(t, page.SIDs, 10)

	page, err = reader.List(ctx, testKey, "", 1000)
	require.NoError(t, err)
	assert.Len(t, page.SIDs, 25)

	_, err = reader.List(ctx, models.CompoundKey{Sport: "nba"}, "", 10)
	assert.Error(t, err)
}

func TestList_UnknownKeyIsEmpty(t *testing.T) {
	reader := NewReaderService(ReaderConfig{}, snapshot.NewMemoryStore(zerolog.Nop()), telemetry.NewNop(), zerolog.Nop())

	page, err := reader.List(context.Background(), testKey, "", 50)
	require.NoError(t, err)
	assert.Empty(t, page.SIDs)
	assert.Nil(t, page.NextCursor)
}

func TestResolve_DedupAndMisses(t *testing.T) {
	store, sids := seedStore(t, 5)
	reader := NewReaderService(ReaderConfig{}, store, telemetry.NewNop(), zerolog.Nop())

	out, err := reader.Resolve(context.Background(), []string{sids[2], "gone", sids[0], sids[2], ""})
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, sids[2], out[0].SID)
	require.NotNil(t, out[0].Row)
	assert.Equal(t, sids[2], out[0].Row.SID)

	assert.Equal(t, "gone", out[1].SID)
	assert.Nil(t, out[1].Row)

	assert.Equal(t, sids[0], out[2].SID)
	assert.NotNil(t, out[2].Row)
}

func TestResolve_CapsAndChunks(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockStore := mocks.NewMockSnapshotStore(ctrl)
	reader := NewReaderService(ReaderConfig{MaxResolve: 1000, ResolveChunk: 300}, mockStore, telemetry.NewNop(), zerolog.Nop())

	ids := make([]string, 1200)
	for i := range ids {
		ids[i] = fmt.Sprintf("sid-%04d", i)
	}

	gomock.InOrder(
		mockStore.EXPECT().GetMany(gomock.Any(), gomock.Len(300)).Return(map[string]*models.LineAggregate{}, nil),
		mockStore.EXPECT().GetMany(gomock.Any(), gomock.Len(300)).Return(map[string]*models.LineAggregate{}, nil),
		mockStore.EXPECT().GetMany(gomock.Any(), gomock.Len(300)).Return(map[string]*models.LineAggregate{}, nil),
		mockStore.EXPECT().GetMany(gomock.Any(), gomock.Len(100)).Return(map[string]*models.LineAggregate{
			"sid-0999": {SID: "sid-0999"},
		}, nil),
	)

	out, err := reader.Resolve(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, out, 1000)
	assert.Equal(t, "sid-0999", out[999].SID)
	assert.NotNil(t, out[999].Row)
	assert.Nil(t, out[0].Row)
}

func TestResolve_StoreFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockStore := mocks.NewMockSnapshotStore(ctrl)
	reader := NewReaderService(ReaderConfig{}, mockStore, telemetry.NewNop(), zerolog.Nop())

	mockStore.EXPECT().GetMany(gomock.Any(), gomock.Any()).Return(nil, models.ErrStoreUnavailable)

	_, err := reader.Resolve(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
}
