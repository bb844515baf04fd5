package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cypherlabdev/odds-aggregator-service/internal/models"
)

// RedisStore persists snapshots in Redis. Per compound key it keeps:
//
//	{prefix}:{key}:ver   version counter
//	{prefix}:{key}:rows  hash sid -> row JSON
//	{prefix}:{key}:sids  sorted set of sids, all scored 0, paged with ZRANGEBYLEX
//
// plus a global {prefix}:index hash (sid -> key) for batched lookups and a
// {prefix}:keys set.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// RedisStoreConfig holds Redis snapshot store configuration
type RedisStoreConfig struct {
	Addr      string // e.g., "localhost:6379"
	Password  string
	DB        int
	KeyPrefix string // e.g., "snap"
}

// NewRedisStore creates a new Redis snapshot store
func NewRedisStore(config RedisStoreConfig, logger zerolog.Logger) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = "snap"
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger.With().Str("component", "redis_snapshot_store").Logger(),
	}
}

// Client exposes the underlying connection so other Redis-backed components
// in the same process can share it
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) versionKey(key models.CompoundKey) string {
	return s.prefix + ":" + key.String() + ":ver"
}

func (s *RedisStore) rowsKey(key models.CompoundKey) string {
	return s.prefix + ":" + key.String() + ":rows"
}

func (s *RedisStore) sidsKey(key models.CompoundKey) string {
	return s.prefix + ":" + key.String() + ":sids"
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":index"
}

func (s *RedisStore) keysKey() string {
	return s.prefix + ":keys"
}

func unavailable(op string, err error) error {
	return fmt.Errorf("failed to %s: %w: %w", op, models.ErrStoreUnavailable, err)
}

// Get reads the version and every row of key in one MULTI so the two agree
func (s *RedisStore) Get(ctx context.Context, key models.CompoundKey) (*models.Snapshot, error) {
	var verCmd *redis.StringCmd
	var rowsCmd *redis.MapStringStringCmd

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		verCmd = pipe.Get(ctx, s.versionKey(key))
		rowsCmd = pipe.HGetAll(ctx, s.rowsKey(key))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable("read snapshot", err)
	}

	snap := &models.Snapshot{Key: key, Rows: map[string]*models.LineAggregate{}}

	version, err := verCmd.Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to parse snapshot version: %w", err)
	}
	snap.Version = version

	for sid, data := range rowsCmd.Val() {
		var row models.LineAggregate
		if err := json.Unmarshal([]byte(data), &row); err != nil {
			s.logger.Warn().Err(err).Str("sid", sid).Msg("failed to unmarshal row")
			continue
		}
		snap.Rows[sid] = &row
	}

	return snap, nil
}

// GetMany resolves sids through the global index, then fetches rows from each
// owning key in one pipeline. Missing sids are absent from the result.
func (s *RedisStore) GetMany(ctx context.Context, sids []string) (map[string]*models.LineAggregate, error) {
	out := make(map[string]*models.LineAggregate, len(sids))
	if len(sids) == 0 {
		return out, nil
	}

	owners, err := s.client.HMGet(ctx, s.indexKey(), sids...).Result()
	if err != nil {
		return nil, unavailable("read sid index", err)
	}

	byKey := make(map[string][]string)
	for i, owner := range owners {
		k, ok := owner.(string)
		if !ok {
			continue
		}
		byKey[k] = append(byKey[k], sids[i])
	}
	if len(byKey) == 0 {
		return out, nil
	}

	pipe := s.client.Pipeline()
	cmds := make(map[string]*redis.SliceCmd, len(byKey))
	for k, group := range byKey {
		cmds[k] = pipe.HMGet(ctx, s.prefix+":"+k+":rows", group...)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable("read rows", err)
	}

	for k, cmd := range cmds {
		group := byKey[k]
		for i, v := range cmd.Val() {
			data, ok := v.(string)
			if !ok {
				continue
			}
			var row models.LineAggregate
			if err := json.Unmarshal([]byte(data), &row); err != nil {
				s.logger.Warn().Err(err).Str("sid", group[i]).Msg("failed to unmarshal row")
				continue
			}
			out[group[i]] = &row
		}
	}

	return out, nil
}

// Commit applies changed and removed under WATCH on the version counter. A
// concurrent writer that bumps the version first makes this commit fail with
// ErrCommitConflict.
func (s *RedisStore) Commit(ctx context.Context, key models.CompoundKey, expectedVersion int64, changed map[string]*models.LineAggregate, removed []string) (int64, error) {
	verKey := s.versionKey(key)

	fields := make([]interface{}, 0, 2*len(changed))
	index := make([]interface{}, 0, 2*len(changed))
	members := make([]redis.Z, 0, len(changed))
	for sid, row := range changed {
		data, err := json.Marshal(row)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal row %s: %w", sid, err)
		}
		fields = append(fields, sid, data)
		index = append(index, sid, key.String())
		members = append(members, redis.Z{Score: 0, Member: sid})
	}

	var next int64
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, verKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return unavailable("read snapshot version", err)
		}
		if cur != expectedVersion {
			return models.ErrCommitConflict
		}
		next = cur + 1

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(removed) > 0 {
				pipe.HDel(ctx, s.rowsKey(key), removed...)
				rem := make([]interface{}, len(removed))
				for i, sid := range removed {
					rem[i] = sid
				}
				pipe.ZRem(ctx, s.sidsKey(key), rem...)
				pipe.HDel(ctx, s.indexKey(), removed...)
			}
			if len(changed) > 0 {
				pipe.HSet(ctx, s.rowsKey(key), fields...)
				pipe.ZAdd(ctx, s.sidsKey(key), members...)
				pipe.HSet(ctx, s.indexKey(), index...)
			}
			pipe.SAdd(ctx, s.keysKey(), key.String())
			pipe.Set(ctx, verKey, next, 0)
			return nil
		})
		return err
	}, verKey)

	switch {
	case err == nil:
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, models.ErrCommitConflict):
		return 0, models.ErrCommitConflict
	case errors.Is(err, models.ErrStoreUnavailable):
		return 0, err
	default:
		return 0, unavailable("commit snapshot", err)
	}

	s.logger.Debug().
		Str("key", key.String()).
		Int64("version", next).
		Int("changed", len(changed)).
		Int("removed", len(removed)).
		Msg("committed snapshot")

	return next, nil
}

// Touch rewrites existing rows of key under WATCH on the version counter and
// leaves the version alone. Sids not in the snapshot are ignored.
func (s *RedisStore) Touch(ctx context.Context, key models.CompoundKey, expectedVersion int64, touched map[string]*models.LineAggregate) error {
	if len(touched) == 0 {
		return nil
	}
	verKey := s.versionKey(key)

	sids := make([]string, 0, len(touched))
	for sid := range touched {
		sids = append(sids, sid)
	}

	written := 0
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, verKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return unavailable("read snapshot version", err)
		}
		if cur != expectedVersion {
			return models.ErrCommitConflict
		}

		existing, err := tx.HMGet(ctx, s.rowsKey(key), sids...).Result()
		if err != nil {
			return unavailable("read snapshot rows", err)
		}
		fields := make([]interface{}, 0, 2*len(sids))
		for i, sid := range sids {
			if existing[i] == nil {
				continue
			}
			data, err := json.Marshal(touched[sid])
			if err != nil {
				return fmt.Errorf("failed to marshal row %s: %w", sid, err)
			}
			fields = append(fields, sid, data)
		}
		if len(fields) == 0 {
			return nil
		}
		written = len(fields) / 2

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.rowsKey(key), fields...)
			return nil
		})
		return err
	}, verKey)

	switch {
	case err == nil:
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, models.ErrCommitConflict):
		return models.ErrCommitConflict
	case errors.Is(err, models.ErrStoreUnavailable):
		return err
	default:
		return unavailable("touch snapshot", err)
	}

	s.logger.Debug().
		Str("key", key.String()).
		Int64("version", expectedVersion).
		Int("touched", written).
		Msg("touched snapshot")

	return nil
}

// ListSids pages the key's sids in ascending lexical order
func (s *RedisStore) ListSids(ctx context.Context, key models.CompoundKey, after string, limit int) ([]string, error) {
	if limit <= 0 {
		return []string{}, nil
	}

	lower := "-"
	if after != "" {
		lower = "(" + after
	}

	sids, err := s.client.ZRangeByLex(ctx, s.sidsKey(key), &redis.ZRangeBy{
		Min:   lower,
		Max:   "+",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, unavailable("list sids", err)
	}
	return sids, nil
}

// Keys returns every key that has been committed at least once
func (s *RedisStore) Keys(ctx context.Context) ([]models.CompoundKey, error) {
	members, err := s.client.SMembers(ctx, s.keysKey()).Result()
	if err != nil {
		return nil, unavailable("list keys", err)
	}

	keys := make([]models.CompoundKey, 0, len(members))
	for _, m := range members {
		key, err := models.ParseCompoundKey(m)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", m).Msg("skipping malformed key")
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Ping checks Redis connection
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping redis", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}
