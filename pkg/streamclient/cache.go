package streamclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cypherlabdev/odds-aggregator-service/internal/models"
	"github.com/cypherlabdev/odds-aggregator-service/pkg/diff"
)

// ErrVersionGap is returned by LocalCache.Apply when a diff does not follow
// the last applied version; the key must be resynced
var ErrVersionGap = errors.New("version gap")

// Resolver reads snapshot pages and rows. The read API client and the
// in-process reader service both satisfy it.
type Resolver interface {
	List(ctx context.Context, key models.CompoundKey, cursor string, pageSize int) (*models.Page, error)
	Resolve(ctx context.Context, sids []string) ([]models.ResolvedRow, error)
}

type keyState struct {
	// version is 0 right after a resync; the next diff becomes the baseline
	version int64
	synced  bool
	rows    map[string]*models.LineAggregate
}

// LocalCache mirrors the snapshots of the subscribed keys by applying diffs
// and fetching changed rows through a Resolver
type LocalCache struct {
	mu           sync.RWMutex
	keys         map[models.CompoundKey]*keyState
	resolver     Resolver
	pageSize     int
	resolveChunk int
}

// NewLocalCache creates an empty cache
func NewLocalCache(resolver Resolver, pageSize, resolveChunk int) *LocalCache {
	if pageSize <= 0 {
		pageSize = 100
	}
	if resolveChunk <= 0 {
		resolveChunk = 1000
	}
	return &LocalCache{
		keys:         make(map[models.CompoundKey]*keyState),
		resolver:     resolver,
		pageSize:     pageSize,
		resolveChunk: resolveChunk,
	}
}

// Resync reloads key in full through the read API
func (c *LocalCache) Resync(ctx context.Context, key models.CompoundKey) error {
	var sids []string
	cursor := ""
	for {
		page, err := c.resolver.List(ctx, key, cursor, c.pageSize)
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", key, err)
		}
		sids = append(sids, page.SIDs...)
		if page.NextCursor == nil {
			break
		}
		cursor = *page.NextCursor
	}

	rows, err := c.fetch(ctx, sids)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.keys[key] = &keyState{synced: true, rows: rows}
	c.mu.Unlock()
	return nil
}

// Apply applies one diff. Diffs at or below the applied version are ignored,
// so replays are harmless. A diff that skips a version marks the key
// desynced and returns ErrVersionGap.
func (c *LocalCache) Apply(ctx context.Context, msg models.DiffMessage) error {
	c.mu.RLock()
	st, ok := c.keys[msg.Key]
	var version int64
	synced := ok && st.synced
	if ok {
		version = st.version
	}
	c.mu.RUnlock()

	if !synced {
		return fmt.Errorf("%s not synced: %w", msg.Key, ErrVersionGap)
	}
	if version != 0 {
		if msg.Version <= version {
			return nil
		}
		if msg.Version != version+1 {
			c.Desync(msg.Key)
			return fmt.Errorf("%s: have v%d, got v%d: %w", msg.Key, version, msg.Version, ErrVersionGap)
		}
	}

	changed := make([]string, 0, len(msg.Add)+len(msg.Upd))
	changed = append(changed, msg.Add...)
	changed = append(changed, msg.Upd...)
	fetched, err := c.fetch(ctx, changed)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// a resync may have replaced the state while rows were fetched
	if c.keys[msg.Key] != st {
		return nil
	}
	diff.Apply(st.rows, msg, fetched)
	st.version = msg.Version
	return nil
}

// Desync marks key as needing a resync
func (c *LocalCache) Desync(key models.CompoundKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.keys[key]; ok {
		st.synced = false
	}
}

// Synced reports whether key is loaded and in sequence
func (c *LocalCache) Synced(key models.CompoundKey) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.keys[key]
	return ok && st.synced
}

// Version returns the last applied version of key, 0 if none since resync
func (c *LocalCache) Version(key models.CompoundKey) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if st, ok := c.keys[key]; ok {
		return st.version
	}
	return 0
}

// Row returns one cached row
func (c *LocalCache) Row(key models.CompoundKey, sid string) (*models.LineAggregate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.keys[key]
	if !ok {
		return nil, false
	}
	row, ok := st.rows[sid]
	return row, ok
}

// Rows returns key's cached rows ordered by sid
func (c *LocalCache) Rows(key models.CompoundKey) []*models.LineAggregate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.keys[key]
	if !ok {
		return nil
	}
	out := make([]*models.LineAggregate, 0, len(st.rows))
	for _, row := range st.rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SID < out[j].SID })
	return out
}

func (c *LocalCache) fetch(ctx context.Context, sids []string) (map[string]*models.LineAggregate, error) {
	rows := make(map[string]*models.LineAggregate, len(sids))
	for start := 0; start < len(sids); start += c.resolveChunk {
		end := start + c.resolveChunk
		if end > len(sids) {
			end = len(sids)
		}
		resolved, err := c.resolver.Resolve(ctx, sids[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to resolve rows: %w", err)
		}
		for _, r := range resolved {
			if r.Row != nil {
				rows[r.SID] = r.Row
			}
		}
	}
	return rows, nil
}
