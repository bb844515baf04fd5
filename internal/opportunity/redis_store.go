package opportunity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/cypherlabdev/odds-aggregator-service/internal/models"
)

// RedisStore keeps each feed in one hash, feature:<name>, field id -> JSON
type RedisStore struct {
	client redis.UniversalClient
	logger zerolog.Logger
}

// NewRedisStore creates an opportunity store on an existing client
func NewRedisStore(client redis.UniversalClient, logger zerolog.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger.With().Str("component", "redis_opportunity_store").Logger(),
	}
}

func featureKey(name string) string {
	return "feature:" + name
}

func (s *RedisStore) UpsertArbitrage(ctx context.Context, opps []*models.ArbitrageOpportunity) error {
	if len(opps) == 0 {
		return nil
	}

	ids := make([]string, len(opps))
	for i, o := range opps {
		ids[i] = o.ID
	}
	existing, err := s.readArbitrage(ctx, ids)
	if err != nil {
		return err
	}

	fields := make([]interface{}, 0, 2*len(opps))
	for _, o := range opps {
		c := *o
		if prev, ok := existing[o.ID]; ok {
			c.FoundAt = prev.FoundAt
		}
		data, err := json.Marshal(&c)
		if err != nil {
			return fmt.Errorf("failed to marshal arbitrage opportunity: %w", err)
		}
		fields = append(fields, c.ID, data)
	}

	if err := s.client.HSet(ctx, featureKey(FeatureArbitrage), fields...).Err(); err != nil {
		return fmt.Errorf("failed to write arbitrage opportunities: %w: %w", models.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) UpsertHighEV(ctx context.Context, bets []*models.HighEVBet) error {
	if len(bets) == 0 {
		return nil
	}

	ids := make([]string, len(bets))
	for i, b := range bets {
		ids[i] = b.ID
	}
	existing, err := s.readHighEV(ctx, ids)
	if err != nil {
		return err
	}

	fields := make([]interface{}, 0, 2*len(bets))
	for _, b := range bets {
		c := *b
		if prev, ok := existing[b.ID]; ok {
			c.FoundAt = prev.FoundAt
		}
		data, err := json.Marshal(&c)
		if err != nil {
			return fmt.Errorf("failed to marshal high-ev bet: %w", err)
		}
		fields = append(fields, c.ID, data)
	}

	if err := s.client.HSet(ctx, featureKey(FeatureHighEV), fields...).Err(); err != nil {
		return fmt.Errorf("failed to write high-ev bets: %w: %w", models.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) RemoveArbitrage(ctx context.Context, ids []string) error {
	return s.remove(ctx, FeatureArbitrage, ids)
}

func (s *RedisStore) RemoveHighEV(ctx context.Context, ids []string) error {
	return s.remove(ctx, FeatureHighEV, ids)
}

func (s *RedisStore) remove(ctx context.Context, feature string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.client.HDel(ctx, featureKey(feature), ids...).Err(); err != nil {
		return fmt.Errorf("failed to remove from %s: %w: %w", feature, models.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) ListArbitrage(ctx context.Context, minArbPct decimal.Decimal, limit int) ([]*models.ArbitrageOpportunity, error) {
	all, err := s.client.HGetAll(ctx, featureKey(FeatureArbitrage)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list arbitrage opportunities: %w: %w", models.ErrStoreUnavailable, err)
	}

	out := make([]*models.ArbitrageOpportunity, 0, len(all))
	for id, data := range all {
		var o models.ArbitrageOpportunity
		if err := json.Unmarshal([]byte(data), &o); err != nil {
			s.logger.Warn().Err(err).Str("id", id).Msg("failed to unmarshal arbitrage opportunity")
			continue
		}
		if o.ArbPct.GreaterThanOrEqual(minArbPct) {
			out = append(out, &o)
		}
	}

	SortArbitrage(out)
	return truncate(out, limit), nil
}

func (s *RedisStore) ListHighEV(ctx context.Context, minEVPct decimal.Decimal, limit int) ([]*models.HighEVBet, error) {
	all, err := s.client.HGetAll(ctx, featureKey(FeatureHighEV)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list high-ev bets: %w: %w", models.ErrStoreUnavailable, err)
	}

	out := make([]*models.HighEVBet, 0, len(all))
	for id, data := range all {
		var b models.HighEVBet
		if err := json.Unmarshal([]byte(data), &b); err != nil {
			s.logger.Warn().Err(err).Str("id", id).Msg("failed to unmarshal high-ev bet")
			continue
		}
		if b.EVPct.GreaterThanOrEqual(minEVPct) {
			out = append(out, &b)
		}
	}

	SortHighEV(out)
	return truncate(out, limit), nil
}

func (s *RedisStore) readArbitrage(ctx context.Context, ids []string) (map[string]*models.ArbitrageOpportunity, error) {
	vals, err := s.client.HMGet(ctx, featureKey(FeatureArbitrage), ids...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read arbitrage opportunities: %w: %w", models.ErrStoreUnavailable, err)
	}

	out := make(map[string]*models.ArbitrageOpportunity, len(vals))
	for i, v := range vals {
		data, ok := v.(string)
		if !ok {
			continue
		}
		var o models.ArbitrageOpportunity
		if err := json.Unmarshal([]byte(data), &o); err == nil {
			out[ids[i]] = &o
		}
	}
	return out, nil
}

func (s *RedisStore) readHighEV(ctx context.Context, ids []string) (map[string]*models.HighEVBet, error) {
	vals, err := s.client.HMGet(ctx, featureKey(FeatureHighEV), ids...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read high-ev bets: %w: %w", models.ErrStoreUnavailable, err)
	}

	out := make(map[string]*models.HighEVBet, len(vals))
	for i, v := range vals {
		data, ok := v.(string)
		if !ok {
			continue
		}
		var b models.HighEVBet
		if err := json.Unmarshal([]byte(data), &b); err == nil {
			out[ids[i]] = &b
		}
	}
	return out, nil
}
