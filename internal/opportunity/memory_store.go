package opportunity

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/cypherlabdev/odds-aggregator-service/internal/models"
)

const (
	// DefaultLimit is the listing size when the caller gives none
	DefaultLimit = 100
	// MaxLimit caps every listing
	MaxLimit = 500
)

// ClampLimit forces a listing limit into [1, MaxLimit]
func ClampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// MemoryStore keeps both feeds in process
type MemoryStore struct {
	mu   sync.RWMutex
	arbs map[string]*models.ArbitrageOpportunity
	bets map[string]*models.HighEVBet
}

// NewMemoryStore creates an empty in-process opportunity store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		arbs: make(map[string]*models.ArbitrageOpportunity),
		bets: make(map[string]*models.HighEVBet),
	}
}

func (s *MemoryStore) UpsertArbitrage(ctx context.Context, opps []*models.ArbitrageOpportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range opps {
		c := *o
		if prev, ok := s.arbs[o.ID]; ok {
			c.FoundAt = prev.FoundAt
		}
		s.arbs[o.ID] = &c
	}
	return nil
}

func (s *MemoryStore) UpsertHighEV(ctx context.Context, bets []*models.HighEVBet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range bets {
		c := *b
		if prev, ok := s.bets[b.ID]; ok {
			c.FoundAt = prev.FoundAt
		}
		s.bets[b.ID] = &c
	}
	return nil
}

func (s *MemoryStore) RemoveArbitrage(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.arbs, id)
	}
	return nil
}

func (s *MemoryStore) RemoveHighEV(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.bets, id)
	}
	return nil
}

func (s *MemoryStore) ListArbitrage(ctx context.Context, minArbPct decimal.Decimal, limit int) ([]*models.ArbitrageOpportunity, error) {
	s.mu.RLock()
	out := make([]*models.ArbitrageOpportunity, 0, len(s.arbs))
	for _, o := range s.arbs {
		if o.ArbPct.GreaterThanOrEqual(minArbPct) {
			c := *o
			out = append(out, &c)
		}
	}
	s.mu.RUnlock()

	SortArbitrage(out)
	return truncate(out, limit), nil
}

func (s *MemoryStore) ListHighEV(ctx context.Context, minEVPct decimal.Decimal, limit int) ([]*models.HighEVBet, error) {
	s.mu.RLock()
	out := make([]*models.HighEVBet, 0, len(s.bets))
	for _, b := range s.bets {
		if b.EVPct.GreaterThanOrEqual(minEVPct) {
			c := *b
			out = append(out, &c)
		}
	}
	s.mu.RUnlock()

	SortHighEV(out)
	return truncate(out, limit), nil
}

// SortArbitrage orders by arb_pct desc, then most recently seen, then id
func SortArbitrage(opps []*models.ArbitrageOpportunity) {
	sort.Slice(opps, func(i, j int) bool {
		a, b := opps[i], opps[j]
		if c := a.ArbPct.Cmp(b.ArbPct); c != 0 {
			return c > 0
		}
		if !a.LastSeen.Equal(b.LastSeen) {
			return a.LastSeen.After(b.LastSeen)
		}
		return a.ID < b.ID
	})
}

// SortHighEV orders by ev_pct desc, then most recently seen, then id
func SortHighEV(bets []*models.HighEVBet) {
	sort.Slice(bets, func(i, j int) bool {
		a, b := bets[i], bets[j]
		if c := a.EVPct.Cmp(b.EVPct); c != 0 {
			return c > 0
		}
		if !a.LastSeen.Equal(b.LastSeen) {
			return a.LastSeen.After(b.LastSeen)
		}
		return a.ID < b.ID
	})
}

func truncate[T any](items []T, limit int) []T {
	limit = ClampLimit(limit)
	if len(items) > limit {
		return items[:limit]
	}
	return items
}
