package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cypherlabdev/odds-aggregator-service/internal/models"
	"github.com/cypherlabdev/odds-aggregator-service/internal/telemetry"
)

// ReaderConfig holds paginated read limits
type ReaderConfig struct {
	DefaultPageSize int // e.g., 100
	MaxPageSize     int // e.g., 500
	MaxResolve      int // most sids one resolve call looks at, e.g., 1000
	ResolveChunk    int // sids per store round trip, e.g., 300
}

// ReaderService serves cursor pages of a snapshot and batched row lookups.
// It never touches the diff stream.
type ReaderService struct {
	store   SnapshotStore
	cfg     ReaderConfig
	metrics *telemetry.Metrics
	logger  zerolog.Logger
}

// NewReaderService creates a new reader service
func NewReaderService(cfg ReaderConfig, store SnapshotStore, metrics *telemetry.Metrics, logger zerolog.Logger) *ReaderService {
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 100
	}
	if cfg.MaxPageSize < cfg.DefaultPageSize {
		cfg.MaxPageSize = cfg.DefaultPageSize
	}
	if cfg.MaxResolve <= 0 {
		cfg.MaxResolve = 1000
	}
	if cfg.ResolveChunk <= 0 {
		cfg.ResolveChunk = 300
	}
	return &ReaderService{
		store:   store,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With().Str("component", "reader_service").Logger(),
	}
}

// List returns the page of key's sids after cursor in ascending order. The
// cursor is the last sid of the previous page; NextCursor is nil on the last
// page. A cursor whose sid has since been removed still resumes in place.
func (s *ReaderService) List(ctx context.Context, key models.CompoundKey, cursor string, pageSize int) (*models.Page, error) {
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return nil, err
	}

	switch {
	case pageSize <= 0:
		pageSize = s.cfg.DefaultPageSize
	case pageSize > s.cfg.MaxPageSize:
		pageSize = s.cfg.MaxPageSize
	}

	// one extra sid tells whether another page exists
	sids, err := s.store.ListSids(ctx, key, cursor, pageSize+1)
	if err != nil {
		return nil, fmt.Errorf("failed to list sids: %w", err)
	}

	page := &models.Page{SIDs: sids}
	if len(sids) > pageSize {
		page.SIDs = sids[:pageSize]
		next := page.SIDs[pageSize-1]
		page.NextCursor = &next
	}

	s.logger.Debug().
		Str("key", key.String()).
		Str("cursor", cursor).
		Int("count", len(page.SIDs)).
		Bool("more", page.NextCursor != nil).
		Msg("listed snapshot page")

	return page, nil
}

// Resolve looks up rows for sids, in request order with duplicates removed.
// Sids beyond MaxResolve are ignored. A sid that no longer exists resolves to
// a nil row rather than failing the batch.
func (s *ReaderService) Resolve(ctx context.Context, sids []string) ([]models.ResolvedRow, error) {
	unique := make([]string, 0, len(sids))
	seen := make(map[string]struct{}, len(sids))
	for _, sid := range sids {
		if sid == "" {
			continue
		}
		if _, ok := seen[sid]; ok {
			continue
		}
		seen[sid] = struct{}{}
		unique = append(unique, sid)
		if len(unique) == s.cfg.MaxResolve {
			break
		}
	}

	found := make(map[string]*models.LineAggregate, len(unique))
	for start := 0; start < len(unique); start += s.cfg.ResolveChunk {
		end := start + s.cfg.ResolveChunk
		if end > len(unique) {
			end = len(unique)
		}
		rows, err := s.store.GetMany(ctx, unique[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to resolve rows: %w", err)
		}
		for sid, row := range rows {
			found[sid] = row
		}
	}

	out := make([]models.ResolvedRow, len(unique))
	misses := 0
	for i, sid := range unique {
		out[i] = models.ResolvedRow{SID: sid, Row: found[sid]}
		if out[i].Row == nil {
			misses++
		}
	}
	s.metrics.ResolveMisses.Add(float64(misses))

	return out, nil
}

// Ping checks that the backing store is reachable
func (s *ReaderService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
