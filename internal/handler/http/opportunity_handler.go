package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/cypherlabdev/odds-aggregator-service/internal/models"
	"github.com/cypherlabdev/odds-aggregator-service/internal/opportunity"
)

// OpportunityHandler serves the arbitrage and high-EV feeds
type OpportunityHandler struct {
	store  opportunity.Store
	logger zerolog.Logger
}

// NewOpportunityHandler creates a new opportunity HTTP handler
func NewOpportunityHandler(store opportunity.Store, logger zerolog.Logger) *OpportunityHandler {
	return &OpportunityHandler{
		store:  store,
		logger: logger.With().Str("component", "opportunity_handler").Logger(),
	}
}

// RegisterRoutes registers the opportunity routes
func (h *OpportunityHandler) RegisterRoutes(r chi.Router) {
	// GET /api/v1/opportunities/arbitrage?min_arb&limit
	r.Get("/opportunities/arbitrage", h.handleArbitrage)

	// GET /api/v1/opportunities/high-ev?min_ev&limit
	r.Get("/opportunities/high-ev", h.handleHighEV)
}

// ListResponse is a filtered, sorted feed listing
type ListResponse[T any] struct {
	Count int `json:"count"`
	Items []T `json:"items"`
}

func (h *OpportunityHandler) handleArbitrage(w http.ResponseWriter, r *http.Request) {
	threshold, limit, ok := h.parseListParams(w, r, "min_arb")
	if !ok {
		return
	}

	opps, err := h.store.ListArbitrage(r.Context(), threshold, limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list arbitrage opportunities")
		storeErrorResponse(h.logger, w, err, "failed to list opportunities")
		return
	}

	if opps == nil {
		opps = []*models.ArbitrageOpportunity{}
	}
	jsonResponse(h.logger, w, http.StatusOK, ListResponse[*models.ArbitrageOpportunity]{Count: len(opps), Items: opps})
}

func (h *OpportunityHandler) handleHighEV(w http.ResponseWriter, r *http.Request) {
	threshold, limit, ok := h.parseListParams(w, r, "min_ev")
	if !ok {
		return
	}

	bets, err := h.store.ListHighEV(r.Context(), threshold, limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list high-ev bets")
		storeErrorResponse(h.logger, w, err, "failed to list opportunities")
		return
	}

	if bets == nil {
		bets = []*models.HighEVBet{}
	}
	jsonResponse(h.logger, w, http.StatusOK, ListResponse[*models.HighEVBet]{Count: len(bets), Items: bets})
}

// parseListParams reads the threshold and limit; it writes a 400 and
// returns false on malformed input
func (h *OpportunityHandler) parseListParams(w http.ResponseWriter, r *http.Request, minParam string) (decimal.Decimal, int, bool) {
	q := r.URL.Query()

	threshold := decimal.Zero
	if raw := q.Get(minParam); raw != "" {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			errorResponse(h.logger, w, http.StatusBadRequest, minParam+" must be a number")
			return decimal.Zero, 0, false
		}
		threshold = d
	}

	limit := opportunity.DefaultLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			errorResponse(h.logger, w, http.StatusBadRequest, "limit must be an integer")
			return decimal.Zero, 0, false
		}
		limit = n
	}

	return threshold, opportunity.ClampLimit(limit), true
}
