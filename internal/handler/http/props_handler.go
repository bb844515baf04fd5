package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/cypherlabdev/odds-aggregator-service/internal/models"
	"github.com/cypherlabdev/odds-aggregator-service/internal/service"
)

// maxRowsRequestBytes bounds a resolve request body
const maxRowsRequestBytes = 1 << 20

// PropsHandler serves snapshot pages and row lookups
type PropsHandler struct {
	reader     *service.ReaderService
	maxResolve int
	logger     zerolog.Logger
}

// NewPropsHandler creates a new props HTTP handler. Resolve requests with
// more than maxResolve sids are rejected.
func NewPropsHandler(reader *service.ReaderService, maxResolve int, logger zerolog.Logger) *PropsHandler {
	if maxResolve <= 0 {
		maxResolve = 1000
	}
	return &PropsHandler{
		reader:     reader,
		maxResolve: maxResolve,
		logger:     logger.With().Str("component", "props_handler").Logger(),
	}
}

// RegisterRoutes registers the props routes
func (h *PropsHandler) RegisterRoutes(r chi.Router) {
	// GET /api/v1/props/table?sport&market&scope&event&cursor&limit
	r.Get("/props/table", h.handleTable)

	// POST /api/v1/props/rows {"sids": [...]}
	r.Post("/props/rows", h.handleRows)
}

// TableResponse is one page of a snapshot's sids
type TableResponse struct {
	SIDs       []string `json:"sids"`
	NextCursor *string  `json:"nextCursor"`
}

// RowsRequest is the body of a resolve call
type RowsRequest struct {
	SIDs []string `json:"sids"`
}

// RowsResponse pairs every requested sid with its row or null
type RowsResponse struct {
	Rows []models.ResolvedRow `json:"rows"`
}

func (h *PropsHandler) handleTable(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := models.CompoundKey{
		Sport:  q.Get("sport"),
		Market: q.Get("market"),
		Scope:  q.Get("scope"),
		Event:  q.Get("event"),
	}.Normalize()
	if err := key.Validate(); err != nil {
		errorResponse(h.logger, w, http.StatusBadRequest, err.Error())
		return
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			errorResponse(h.logger, w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	page, err := h.reader.List(r.Context(), key, q.Get("cursor"), limit)
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("key", key.String()).
			Msg("failed to list snapshot page")
		storeErrorResponse(h.logger, w, err, "failed to list sids")
		return
	}

	sids := page.SIDs
	if sids == nil {
		sids = []string{}
	}
	jsonResponse(h.logger, w, http.StatusOK, TableResponse{SIDs: sids, NextCursor: page.NextCursor})
}

func (h *PropsHandler) handleRows(w http.ResponseWriter, r *http.Request) {
	var req RowsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRowsRequestBytes)).Decode(&req); err != nil {
		errorResponse(h.logger, w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.SIDs) > h.maxResolve {
		errorResponse(h.logger, w, http.StatusBadRequest, "too many sids: max "+strconv.Itoa(h.maxResolve))
		return
	}

	rows, err := h.reader.Resolve(r.Context(), req.SIDs)
	if err != nil {
		h.logger.Error().
			Err(err).
			Int("sids", len(req.SIDs)).
			Msg("failed to resolve rows")
		storeErrorResponse(h.logger, w, err, "failed to resolve rows")
		return
	}

	jsonResponse(h.logger, w, http.StatusOK, RowsResponse{Rows: rows})
}
