package service

import (
	"context"

	"github.com/cypherlabdev/odds-aggregator-service/internal/models"
)

// DiffPublisher is an interface that abstracts fan-out of committed diffs
// This allows for easier testing and mocking
type DiffPublisher interface {
	Publish(ctx context.Context, msg models.DiffMessage) error
}
