package service

import (
	"context"

	"github.com/cypherlabdev/odds-aggregator-service/internal/models"
)

// BatchProcessor is an interface that abstracts ingest of one raw batch
// This allows for easier testing and mocking
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, batch models.RawBatch) (*models.CommitResult, error)
}
