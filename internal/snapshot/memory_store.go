package snapshot

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cypherlabdev/odds-aggregator-service/internal/models"
)

// MemoryStore keeps every snapshot in process. Each key holds an immutable
// state that a commit replaces wholesale, so readers never see a version
// without its rows.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*entry
	index   map[string]string // sid -> key
	logger  zerolog.Logger
}

type entry struct {
	mu    sync.Mutex // serializes commits to one key
	key   models.CompoundKey
	state *state
}

type state struct {
	version int64
	rows    map[string]*models.LineAggregate
	sids    []string // ascending
}

// NewMemoryStore creates an empty in-process snapshot store
func NewMemoryStore(logger zerolog.Logger) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*entry),
		index:   make(map[string]string),
		logger:  logger.With().Str("component", "memory_snapshot_store").Logger(),
	}
}

func (s *MemoryStore) lookup(key models.CompoundKey) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[key.String()]
}

func (s *MemoryStore) entryFor(key models.CompoundKey) *entry {
	if e := s.lookup(key); e != nil {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key.String()]
	if !ok {
		e = &entry{key: key, state: &state{rows: map[string]*models.LineAggregate{}}}
		s.entries[key.String()] = e
	}
	return e
}

func (e *entry) current() *state {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Get returns the key's current snapshot. An unknown key is version 0 with
// no rows. The returned rows must not be modified.
func (s *MemoryStore) Get(ctx context.Context, key models.CompoundKey) (*models.Snapshot, error) {
	e := s.lookup(key)
	if e == nil {
		return &models.Snapshot{Key: key, Rows: map[string]*models.LineAggregate{}}, nil
	}
	st := e.current()
	return &models.Snapshot{Key: key, Version: st.version, Rows: st.rows}, nil
}

// GetMany returns the rows for sids that still exist. Missing sids are
// absent from the result.
func (s *MemoryStore) GetMany(ctx context.Context, sids []string) (map[string]*models.LineAggregate, error) {
	out := make(map[string]*models.LineAggregate, len(sids))

	s.mu.RLock()
	owners := make(map[string]*entry, len(sids))
	for _, sid := range sids {
		if k, ok := s.index[sid]; ok {
			owners[sid] = s.entries[k]
		}
	}
	s.mu.RUnlock()

	for sid, e := range owners {
		if row, ok := e.current().rows[sid]; ok {
			out[sid] = row
		}
	}
	return out, nil
}

// Commit writes changed rows and drops removed sids for key, returning the new
// version. It fails with ErrCommitConflict when the key has moved past
// expectedVersion.
func (s *MemoryStore) Commit(ctx context.Context, key models.CompoundKey, expectedVersion int64, changed map[string]*models.LineAggregate, removed []string) (int64, error) {
	e := s.entryFor(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.state
	if cur.version != expectedVersion {
		return 0, models.ErrCommitConflict
	}

	rows := make(map[string]*models.LineAggregate, len(cur.rows)+len(changed))
	for sid, row := range cur.rows {
		rows[sid] = row
	}
	for _, sid := range removed {
		delete(rows, sid)
	}
	membership := len(removed) > 0
	for sid, row := range changed {
		if _, ok := rows[sid]; !ok {
			membership = true
		}
		rows[sid] = row
	}

	sids := cur.sids
	if membership {
		sids = make([]string, 0, len(rows))
		for sid := range rows {
			sids = append(sids, sid)
		}
		sort.Strings(sids)
	}

	next := &state{version: cur.version + 1, rows: rows, sids: sids}

	s.mu.Lock()
	for sid := range changed {
		s.index[sid] = key.String()
	}
	for _, sid := range removed {
		if s.index[sid] == key.String() {
			delete(s.index, sid)
		}
	}
	e.state = next
	s.mu.Unlock()

	s.logger.Debug().
		Str("key", key.String()).
		Int64("version", next.version).
		Int("changed", len(changed)).
		Int("removed", len(removed)).
		Msg("committed snapshot")

	return next.version, nil
}

// Touch rewrites rows of key in place without a new version. It is used for
// refreshes that change nothing visible, such as a newer updated_at. Sids not
// in the snapshot are ignored.
func (s *MemoryStore) Touch(ctx context.Context, key models.CompoundKey, expectedVersion int64, touched map[string]*models.LineAggregate) error {
	e := s.lookup(key)
	if e == nil {
		if expectedVersion != 0 {
			return models.ErrCommitConflict
		}
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.state
	if cur.version != expectedVersion {
		return models.ErrCommitConflict
	}

	rows := make(map[string]*models.LineAggregate, len(cur.rows))
	for sid, row := range cur.rows {
		rows[sid] = row
	}
	n := 0
	for sid, row := range touched {
		if _, ok := rows[sid]; ok {
			rows[sid] = row
			n++
		}
	}
	e.state = &state{version: cur.version, rows: rows, sids: cur.sids}

	s.logger.Debug().
		Str("key", key.String()).
		Int64("version", cur.version).
		Int("touched", n).
		Msg("touched snapshot")

	return nil
}

// ListSids returns up to limit sids of key in ascending order, starting
// after the given sid. An empty after starts at the beginning.
func (s *MemoryStore) ListSids(ctx context.Context, key models.CompoundKey, after string, limit int) ([]string, error) {
	e := s.lookup(key)
	if e == nil || limit <= 0 {
		return []string{}, nil
	}
	sids := e.current().sids

	start := 0
	if after != "" {
		start = sort.Search(len(sids), func(i int) bool { return sids[i] > after })
	}
	end := start + limit
	if end > len(sids) {
		end = len(sids)
	}

	page := make([]string, end-start)
	copy(page, sids[start:end])
	return page, nil
}

// Keys returns every key that has been committed at least once
func (s *MemoryStore) Keys(ctx context.Context) ([]models.CompoundKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]models.CompoundKey, 0, len(s.entries))
	for _, e := range s.entries {
		keys = append(keys, e.key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
