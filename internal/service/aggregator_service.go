package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cypherlabdev/odds-aggregator-service/internal/models"
	"github.com/cypherlabdev/odds-aggregator-service/internal/telemetry"
	"github.com/cypherlabdev/odds-aggregator-service/pkg/diff"
	"github.com/cypherlabdev/odds-aggregator-service/pkg/normalizer"
)

// AggregatorConfig holds ingest pipeline settings
type AggregatorConfig struct {
	ExpiryGrace      time.Duration // how long after start an event's selections live
	MaxCommitRetries int
}

// AggregatorService runs raw batches through normalize, diff, commit,
// opportunity detection and publish. Work for one key is serialized so diffs
// leave in commit order.
type AggregatorService struct {
	store      SnapshotStore
	normalizer *normalizer.Normalizer
	detector   OpportunityDetector
	publisher  DiffPublisher
	metrics    *telemetry.Metrics
	cfg        AggregatorConfig
	now        func() time.Time
	locks      keyLocks
	logger     zerolog.Logger
}

// NewAggregatorService creates a new aggregator service
func NewAggregatorService(
	cfg AggregatorConfig,
	store SnapshotStore,
	detector OpportunityDetector,
	publisher DiffPublisher,
	metrics *telemetry.Metrics,
	logger zerolog.Logger,
) *AggregatorService {
	if cfg.MaxCommitRetries < 1 {
		cfg.MaxCommitRetries = 1
	}
	return &AggregatorService{
		store:      store,
		normalizer: normalizer.NewNormalizer(cfg.ExpiryGrace, logger),
		detector:   detector,
		publisher:  publisher,
		metrics:    metrics,
		cfg:        cfg,
		now:        time.Now,
		locks:      keyLocks{locks: make(map[string]*sync.Mutex)},
		logger:     logger.With().Str("component", "aggregator_service").Logger(),
	}
}

// ProcessBatch merges one raw batch into its key's snapshot. A batch that
// changes nothing visible is absorbed without a new version; the result then
// carries the current version and an empty diff.
func (s *AggregatorService) ProcessBatch(ctx context.Context, batch models.RawBatch) (*models.CommitResult, error) {
	key := batch.Key.Normalize()
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("invalid batch key: %w: %w", models.ErrNormalization, err)
	}
	batch.Key = key
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}

	var report normalizer.Report
	result, err := s.update(ctx, key, func(prior *models.Snapshot) map[string]*models.LineAggregate {
		next, r := s.normalizer.Build(prior, batch, s.now())
		report = r
		return next
	})

	s.metrics.RecordsApplied.Add(float64(report.Applied))
	s.metrics.StaleWrites.Add(float64(report.Stale))
	s.metrics.ExpiredRecords.Add(float64(report.Expired))
	for _, f := range report.Failures {
		s.metrics.NormalizationFailures.WithLabelValues(f.Field).Inc()
	}

	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("key", key.String()).
		Str("batch_id", batch.ID).
		Int("records", len(batch.Records)).
		Int("applied", report.Applied).
		Int("stale", report.Stale).
		Int("failed", len(report.Failures)).
		Int64("version", result.Version).
		Int("diff_size", result.Diff.Size()).
		Msg("processed batch")

	return result, nil
}

// ExpireStale removes every selection whose event started more than the grace
// window before now. Each affected key gets one new version whose diff lists
// the expired sids under del.
func (s *AggregatorService) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	keys, err := s.store.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list snapshot keys: %w", err)
	}

	total := 0
	for _, key := range keys {
		result, err := s.update(ctx, key, func(prior *models.Snapshot) map[string]*models.LineAggregate {
			next := make(map[string]*models.LineAggregate, len(prior.Rows))
			for sid, row := range prior.Rows {
				if s.expired(row, now) {
					continue
				}
				next[sid] = row
			}
			return next
		})
		if err != nil {
			return total, fmt.Errorf("failed to expire %s: %w", key, err)
		}
		if n := len(result.Diff.Del); n > 0 {
			total += n
			s.metrics.SelectionsExpired.Add(float64(n))
			s.logger.Info().
				Str("key", key.String()).
				Int("expired", n).
				Int64("version", result.Version).
				Msg("expired selections")
		}
	}
	return total, nil
}

// RunExpiry sweeps expired selections every interval until ctx is done
func (s *AggregatorService) RunExpiry(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", interval).Msg("started expiry sweeper")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("stopping expiry sweeper")
			return nil
		case <-ticker.C:
			if _, err := s.ExpireStale(ctx, s.now()); err != nil {
				s.logger.Error().Err(err).Msg("expiry sweep failed")
			}
		}
	}
}

func (s *AggregatorService) expired(row *models.LineAggregate, now time.Time) bool {
	start := row.Event.StartTime
	return !start.IsZero() && now.After(start.Add(s.cfg.ExpiryGrace))
}

// update is the single write path. build derives the next row set from the
// current snapshot; it is called again with a fresh snapshot whenever another
// writer commits first.
func (s *AggregatorService) update(
	ctx context.Context,
	key models.CompoundKey,
	build func(prior *models.Snapshot) map[string]*models.LineAggregate,
) (*models.CommitResult, error) {
	unlock := s.locks.lock(key.String())
	defer unlock()

	for attempt := 1; ; attempt++ {
		prior, err := s.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to read snapshot: %w", err)
		}

		next := build(prior)
		msg := diff.Compute(key, prior.Version+1, prior.Rows, next)
		if msg.Empty() {
			msg.Version = prior.Version
			// rows rebuilt with newer quote timestamps are stored quietly so
			// later out-of-order records are still judged against them
			err := s.touch(ctx, key, prior, next)
			if err == nil {
				return &models.CommitResult{Key: key, Version: prior.Version, Diff: msg}, nil
			}
			if !errors.Is(err, models.ErrCommitConflict) {
				return nil, fmt.Errorf("failed to store refreshed rows: %w", err)
			}
			s.metrics.CommitConflicts.Inc()
			if attempt >= s.cfg.MaxCommitRetries {
				return nil, fmt.Errorf("failed to touch %s after %d attempts: %w", key, attempt, err)
			}
			continue
		}

		changed := diff.Changed(msg, next)
		version, err := s.store.Commit(ctx, key, prior.Version, changed, msg.Del)
		if errors.Is(err, models.ErrCommitConflict) {
			s.metrics.CommitConflicts.Inc()
			if attempt >= s.cfg.MaxCommitRetries {
				return nil, fmt.Errorf("failed to commit %s after %d attempts: %w", key, attempt, err)
			}
			s.logger.Debug().
				Str("key", key.String()).
				Int("attempt", attempt).
				Msg("commit conflict, retrying")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to commit snapshot: %w", err)
		}

		msg.Version = version
		s.metrics.Commits.Inc()
		s.afterCommit(ctx, msg, changed)

		return &models.CommitResult{Key: key, Version: version, Diff: msg}, nil
	}
}

// touch writes rows the build replaced without changing their display
// content. The normalizer keeps the prior pointer for rows it did not touch.
func (s *AggregatorService) touch(ctx context.Context, key models.CompoundKey, prior *models.Snapshot, next map[string]*models.LineAggregate) error {
	var touched map[string]*models.LineAggregate
	for sid, row := range next {
		old, ok := prior.Rows[sid]
		if !ok || old == row {
			continue
		}
		if touched == nil {
			touched = make(map[string]*models.LineAggregate)
		}
		touched[sid] = row
	}
	if len(touched) == 0 {
		return nil
	}
	return s.store.Touch(ctx, key, prior.Version, touched)
}

// afterCommit refreshes opportunities and publishes the diff. Neither can
// undo the commit, so failures are logged and left to the next update.
func (s *AggregatorService) afterCommit(ctx context.Context, msg models.DiffMessage, changed map[string]*models.LineAggregate) {
	if s.detector != nil {
		res, err := s.detector.Evaluate(ctx, changed, msg.Del)
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("key", msg.Key.String()).
				Msg("failed to evaluate opportunities")
		} else {
			s.metrics.Opportunities.WithLabelValues("arbitrage").Set(float64(res.Arbitrage))
			s.metrics.Opportunities.WithLabelValues("high_ev").Set(float64(res.HighEV))
		}
	}

	if err := s.publisher.Publish(ctx, msg); err != nil {
		s.logger.Error().
			Err(err).
			Str("key", msg.Key.String()).
			Int64("version", msg.Version).
			Msg("failed to publish diff")
		return
	}
	s.metrics.DiffsPublished.Inc()
	s.metrics.DiffSize.Observe(float64(msg.Size()))

	s.logger.Debug().
		Str("diff", diff.Describe(msg)).
		Msg("published diff")
}

// keyLocks hands out one mutex per compound key
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyLocks) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
