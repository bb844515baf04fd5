package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/cypherlabdev/odds-aggregator-service/internal/models"
)

// jsonResponse writes a JSON response
func jsonResponse(logger zerolog.Logger, w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// errorResponse writes a JSON error response
func errorResponse(logger zerolog.Logger, w http.ResponseWriter, status int, message string) {
	jsonResponse(logger, w, status, map[string]string{
		"error": message,
	})
}

// storeErrorResponse maps a read failure to 503 when the backing store is
// down and 500 otherwise
func storeErrorResponse(logger zerolog.Logger, w http.ResponseWriter, err error, message string) {
	if errors.Is(err, models.ErrStoreUnavailable) {
		errorResponse(logger, w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	errorResponse(logger, w, http.StatusInternalServerError, message)
}
