package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sproutly/sproutly/server/internal/airouter"
	"github.com/sproutly/sproutly/server/internal/identify"
	"github.com/sproutly/sproutly/server/internal/store"
	"github.com/sproutly/sproutly/server/internal/usage"
	"github.com/sproutly/sproutly/server/pkg/models"
)

func respondJSON(w http.ResponseWriter, status int, data, meta interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.Envelope{Success: true, Data: data, Meta: meta})
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.ErrorEnvelope{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			Details:   details,
			Timestamp: time.Now().UTC(),
			Path:      r.URL.Path,
		},
	})
}

// respondMapped translates domain errors into the wire error contract.
func respondMapped(w http.ResponseWriter, r *http.Request, err error) {
	var validation *identify.ValidationError
	if errors.As(err, &validation) {
		status := http.StatusUnprocessableEntity
		if validation.Code == "IMAGE_TOO_LARGE" {
			// Structural rejection rather than a constraint failure.
			status = http.StatusBadRequest
		}
		respondError(w, r, status, validation.Code, validation.Message, validation.Details)
		return
	}

	var quota *usage.QuotaError
	if errors.As(err, &quota) {
		respondError(w, r, http.StatusPaymentRequired, "LIMIT_EXCEEDED",
			fmt.Sprintf("monthly %s quota exhausted", quota.Feature),
			map[string]interface{}{
				"feature":  quota.Feature,
				"used":     quota.Used,
				"limit":    quota.Limit,
				"resetsAt": quota.ResetsAt.Format(time.RFC3339),
			})
		return
	}

	var rate *usage.RateLimitError
	if errors.As(err, &rate) {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(rate.RetryAfter.Seconds()+0.999)))
		respondError(w, r, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED",
			"too many requests", nil)
		return
	}

	var notFound *store.ErrNotFound
	if errors.As(err, &notFound) {
		respondError(w, r, http.StatusNotFound, "NOT_FOUND", notFound.Error(), nil)
		return
	}

	var conflict *store.ErrConflict
	if errors.As(err, &conflict) {
		respondError(w, r, http.StatusConflict, "CONFLICT", conflict.Error(), nil)
		return
	}

	var routed *airouter.Error
	if errors.As(err, &routed) {
		respondError(w, r, http.StatusServiceUnavailable, "AI_UNAVAILABLE",
			"all AI providers are currently unavailable",
			map[string]interface{}{"attemptedProviders": routed.Attempted})
		return
	}

	log.Error().Err(err).Str("path", r.URL.Path).Msg("unhandled error")
	respondError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", nil)
}

// decodeBody parses a JSON request body, rejecting unknown garbage with
// a 400 rather than a 422.
func decodeBody(w http.ResponseWriter, r *http.Request, into interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		respondError(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return false
	}
	return true
}
