package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/riskdesk/backend/internal/middleware"
	"github.com/riskdesk/backend/internal/models"
	"github.com/riskdesk/backend/internal/services"
	"github.com/riskdesk/backend/pkg/logger"
)

const (
	maxBodyBytes = 1_048_576
	defaultLimit = 20
	maxLimit     = 100
)

// Page is the envelope of every list endpoint.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Skip  int `json:"skip"`
	Limit int `json:"limit"`
}

var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("encode response: %v", err)
	}
}

// writeError maps domain errors onto status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrInsufficientFunds):
		services.SendErrorResponse(w, err.Error(), http.StatusPaymentRequired, nil)
	case errors.Is(err, models.ErrInvalidDocument),
		errors.Is(err, models.ErrModelInactive),
		errors.Is(err, models.ErrInvalidAmount),
		errors.Is(err, errBadRequest):
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, models.ErrForbidden):
		services.SendErrorResponse(w, "Forbidden", http.StatusForbidden, nil)
	case errors.Is(err, models.ErrNotFound):
		services.SendErrorResponse(w, "Not found", http.StatusNotFound, nil)
	case errors.Is(err, models.ErrQueueUnavailable):
		services.SendErrorResponse(w, queueUnavailableMessage(err), http.StatusServiceUnavailable, nil)
	default:
		logger.WithField("path", r.URL.Path).Errorf("request failed: %v", err)
		services.SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
	}
}

func queueUnavailableMessage(err error) string {
	var qe *models.QueueUnavailableError
	if errors.As(err, &qe) && !qe.Refunded {
		return fmt.Sprintf("Analysis queue unavailable, job %d was charged and will be queued again automatically", qe.JobID)
	}
	return "Analysis queue unavailable, you have not been charged"
}

func ownerOrReject(w http.ResponseWriter, r *http.Request) (int64, bool) {
	ownerID, ok := middleware.OwnerFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
	}
	return ownerID, ok
}

// decodeJSON reads exactly one JSON object from the body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

// pageParams reads skip and limit from the query string.
func pageParams(r *http.Request) (skip, limit int, err error) {
	skip, limit = 0, defaultLimit
	if v := r.URL.Query().Get("skip"); v != "" {
		skip, err = strconv.Atoi(v)
		if err != nil || skip < 0 {
			return 0, 0, fmt.Errorf("%w: skip must be a non-negative integer", errBadRequest)
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 {
			return 0, 0, fmt.Errorf("%w: limit must be a positive integer", errBadRequest)
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return skip, limit, nil
}
