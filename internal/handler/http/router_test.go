package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/cypherlabdev/odds-aggregator-service/internal/mocks"
	"github.com/cypherlabdev/odds-aggregator-service/internal/models"
	"github.com/cypherlabdev/odds-aggregator-service/internal/opportunity"
	"github.com/cypherlabdev/odds-aggregator-service/internal/service"
	"github.com/cypherlabdev/odds-aggregator-service/internal/snapshot"
	"github.com/cypherlabdev/odds-aggregator-service/internal/telemetry"
)

var testKey = models.CompoundKey{Sport: "nba", Market: "player_points", Scope: "pregame", Event: "*"}

type testAPI struct {
	server *httptest.Server
	store  service.SnapshotStore
	opps   *opportunity.MemoryStore
	sids   []string
}

func setupTestAPI(t *testing.T, store service.SnapshotStore) *testAPI {
	opps := opportunity.NewMemoryStore()
	reader := service.NewReaderService(service.ReaderConfig{DefaultPageSize: 100, MaxPageSize: 500}, store, telemetry.NewNop(), zerolog.Nop())

	stream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	router := NewRouter(
		RouterConfig{AllowedOrigins: []string{"https://app.example.com"}},
		NewPropsHandler(reader, 1000, zerolog.Nop()),
		NewOpportunityHandler(opps, zerolog.Nop()),
		stream,
		store,
		prometheus.NewRegistry(),
		zerolog.Nop(),
	)

	return &testAPI{server: httptest.NewServer(router), store: store, opps: opps}
}

func setupSeededAPI(t *testing.T, n int) *testAPI {
	store := snapshot.NewMemoryStore(zerolog.Nop())
	rows := make(map[string]*models.LineAggregate, n)
	sids := make([]string, n)
	for i := 0; i < n; i++ {
		sid := fmt.Sprintf("%016x", uint64(i)*0x9e3779b97f4a7c15)
		sids[i] = sid
		rows[sid] = &models.LineAggregate{SID: sid, Key: testKey, Kind: models.KindOverUnder, Line: 20.5}
	}
	_, err := store.Commit(context.Background(), testKey, 0, rows, nil)
	require.NoError(t, err)

	api := setupTestAPI(t, store)
	api.sids = sids
	return api
}

func (a *testAPI) cleanup() {
	a.server.Close()
}

func (a *testAPI) get(t *testing.T, path string, out interface{}) int {
	resp, err := http.Get(a.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (a *testAPI) postRows(t *testing.T, body []byte, out interface{}) int {
	resp, err := http.Post(a.server.URL+"/api/v1/props/rows", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func tablePath(cursor string, limit int) string {
	q := url.Values{}
	q.Set("sport", "nba")
	q.Set("market", "player_points")
	q.Set("scope", "pregame")
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	q.Set("limit", fmt.Sprint(limit))
	return "/api/v1/props/table?" + q.Encode()
}

func TestTable_Pagination(t *testing.T) {
	api := setupSeededAPI(t, 250)
	defer api.cleanup()

	seen := make(map[string]bool)
	cursor := ""
	var sizes []int
	for {
		var page TableResponse
		require.Equal(t, http.StatusOK, api.get(t, tablePath(cursor, 100), &page))
		sizes = append(sizes, len(page.SIDs))
		for _, sid := range page.SIDs {
			assert.False(t, seen[sid])
			seen[sid] = true
		}
		if page.NextCursor == nil {
			break
		}
		cursor = *page.NextCursor
	}

	assert.Equal(t, []int{100, 100, 50}, sizes)
	assert.Len(t, seen, 250)
}

func TestTable_BadRequests(t *testing.T) {
	api := setupSeededAPI(t, 1)
	defer api.cleanup()

	assert.Equal(t, http.StatusBadRequest, api.get(t, "/api/v1/props/table?sport=nba", nil))
	assert.Equal(t, http.StatusBadRequest, api.get(t, "/api/v1/props/table?sport=nba&market=pts&scope=pregame&limit=ten", nil))
}

func TestTable_EmptyKeyReturnsEmptyList(t *testing.T) {
	api := setupSeededAPI(t, 1)
	defer api.cleanup()

	resp, err := http.Get(api.server.URL + "/api/v1/props/table?sport=nhl&market=goals&scope=pregame")
	require.NoError(t, err)
	defer resp.Body.Close()

	var raw map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.JSONEq(t, `[]`, string(raw["sids"]))
	assert.JSONEq(t, `null`, string(raw["nextCursor"]))
}

func TestRows_ResolvesWithNulls(t *testing.T) {
	api := setupSeededAPI(t, 3)
	defer api.cleanup()

	body, _ := json.Marshal(RowsRequest{SIDs: []string{api.sids[1], "expired", api.sids[1]}})
	var out RowsResponse
	require.Equal(t, http.StatusOK, api.postRows(t, body, &out))

	require.Len(t, out.Rows, 2)
	assert.Equal(t, api.sids[1], out.Rows[0].SID)
	require.NotNil(t, out.Rows[0].Row)
	assert.Equal(t, 20.5, out.Rows[0].Row.Line)
	assert.Equal(t, "expired", out.Rows[1].SID)
	assert.Nil(t, out.Rows[1].Row)
}

func TestRows_Limits(t *testing.T) {
	api := setupSeededAPI(t, 1)
	defer api.cleanup()

	sids := make([]string, 1001)
	for i := range sids {
		sids[i] = fmt.Sprint(i)
	}
	body, _ := json.Marshal(RowsRequest{SIDs: sids})
	assert.Equal(t, http.StatusBadRequest, api.postRows(t, body, nil))

	assert.Equal(t, http.StatusBadRequest, api.postRows(t, []byte(`{"sids":`), nil))
}

func TestStoreUnavailable_Returns503(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockStore := mocks.NewMockSnapshotStore(ctrl)
	api := setupTestAPI(t, mockStore)
	defer api.cleanup()

	down := fmt.Errorf("failed to list sids: %w: %w", models.ErrStoreUnavailable, fmt.Errorf("dial tcp: connection refused"))
	mockStore.EXPECT().ListSids(gomock.Any(), testKey, "", 101).Return(nil, down)
	mockStore.EXPECT().GetMany(gomock.Any(), []string{"a"}).Return(nil, down)
	mockStore.EXPECT().Ping(gomock.Any()).Return(down)

	assert.Equal(t, http.StatusServiceUnavailable, api.get(t, tablePath("", 100), nil))
	assert.Equal(t, http.StatusServiceUnavailable, api.postRows(t, []byte(`{"sids":["a"]}`), nil))
	assert.Equal(t, http.StatusServiceUnavailable, api.get(t, "/ready", nil))
}

func TestOpportunities_Listing(t *testing.T) {
	api := setupSeededAPI(t, 1)
	defer api.cleanup()
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, api.opps.UpsertArbitrage(ctx, []*models.ArbitrageOpportunity{
		{ID: "a1", ArbPct: decimal.RequireFromString("1.5"), LastSeen: now},
		{ID: "a2", ArbPct: decimal.RequireFromString("3.2"), LastSeen: now},
		{ID: "a3", ArbPct: decimal.RequireFromString("2.0"), LastSeen: now},
	}))
	require.NoError(t, api.opps.UpsertHighEV(ctx, []*models.HighEVBet{
		{ID: "e1", EVPct: decimal.RequireFromString("4"), LastSeen: now},
		{ID: "e2", EVPct: decimal.RequireFromString("9"), LastSeen: now},
	}))

	var arbs ListResponse[*models.ArbitrageOpportunity]
	require.Equal(t, http.StatusOK, api.get(t, "/api/v1/opportunities/arbitrage?min_arb=2", &arbs))
	assert.Equal(t, 2, arbs.Count)
	require.Len(t, arbs.Items, 2)
	assert.Equal(t, "a2", arbs.Items[0].ID)
	assert.Equal(t, "a3", arbs.Items[1].ID)

	require.Equal(t, http.StatusOK, api.get(t, "/api/v1/opportunities/arbitrage?limit=0", &arbs))
	assert.Equal(t, 1, arbs.Count)

	var bets ListResponse[*models.HighEVBet]
	require.Equal(t, http.StatusOK, api.get(t, "/api/v1/opportunities/high-ev", &bets))
	require.Equal(t, 2, bets.Count)
	assert.Equal(t, "e2", bets.Items[0].ID)

	assert.Equal(t, http.StatusBadRequest, api.get(t, "/api/v1/opportunities/high-ev?min_ev=lots", nil))
	assert.Equal(t, http.StatusBadRequest, api.get(t, "/api/v1/opportunities/arbitrage?limit=x", nil))
}

func TestRouter_HealthStreamAndCORS(t *testing.T) {
	api := setupSeededAPI(t, 1)
	defer api.cleanup()

	assert.Equal(t, http.StatusOK, api.get(t, "/health", nil))
	assert.Equal(t, http.StatusOK, api.get(t, "/ready", nil))
	assert.Equal(t, http.StatusTeapot, api.get(t, "/api/v1/stream", nil))

	resp, err := http.Get(api.server.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodOptions, api.server.URL+"/api/v1/props/rows", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.True(t, strings.Contains(resp.Header.Get("Access-Control-Allow-Methods"), "POST"))
}
