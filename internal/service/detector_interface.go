package service

import (
	"context"

	"github.com/cypherlabdev/odds-aggregator-service/internal/models"
	"github.com/cypherlabdev/odds-aggregator-service/internal/opportunity"
)

// OpportunityDetector is an interface that abstracts opportunity detection
// This allows for easier testing and mocking
type OpportunityDetector interface {
	Evaluate(ctx context.Context, changed map[string]*models.LineAggregate, removed []string) (opportunity.Result, error)
}
