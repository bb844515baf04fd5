package service

import (
	"context"

	"github.com/cypherlabdev/odds-aggregator-service/internal/models"
)

// SnapshotStore is an interface that abstracts the versioned snapshot cache
// This allows for easier testing and mocking
type SnapshotStore interface {
	Get(ctx context.Context, key models.CompoundKey) (*models.Snapshot, error)
	GetMany(ctx context.Context, sids []string) (map[string]*models.LineAggregate, error)
	Commit(ctx context.Context, key models.CompoundKey, expectedVersion int64, changed map[string]*models.LineAggregate, removed []string) (int64, error)
	Touch(ctx context.Context, key models.CompoundKey, expectedVersion int64, touched map[string]*models.LineAggregate) error
	ListSids(ctx context.Context, key models.CompoundKey, after string, limit int) ([]string, error)
	Keys(ctx context.Context) ([]models.CompoundKey, error)
	Ping(ctx context.Context) error
	Close() error
}
