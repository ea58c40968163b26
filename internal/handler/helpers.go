package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/campuspoints/server/internal/engine"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

// parsePagination reads page/limit query parameters and converts them to a
// limit/offset pair. Page numbering starts at 1.
func parsePagination(r *http.Request) (limit, offset int) {
	limit = 50
	page := 1
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	return limit, (page - 1) * limit
}

// writeEngineError maps workflow errors to HTTP responses. Rejections carry
// enough detail for the caller to render an actionable message; anything that
// is not a client error is logged and reported as a 500.
func writeEngineError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var insufficient *engine.InsufficientPointsError
	if errors.As(err, &insufficient) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":    "insufficient points",
			"balance":  insufficient.Balance,
			"required": insufficient.Required,
		})
		return
	}

	var adminBalance *engine.InsufficientAdminBalanceError
	if errors.As(err, &adminBalance) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":     "insufficient admin balance",
			"balance":   adminBalance.Balance,
			"requested": adminBalance.Requested,
		})
		return
	}

	var studentBalance *engine.InsufficientStudentBalanceError
	if errors.As(err, &studentBalance) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":     "insufficient student balance",
			"balance":   studentBalance.Balance,
			"requested": studentBalance.Requested,
		})
		return
	}

	var transition *engine.InvalidStateTransitionError
	if errors.As(err, &transition) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  "redemption cannot be cancelled",
			"status": transition.Status,
		})
		return
	}

	switch {
	case engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrOutOfStock):
		writeError(w, http.StatusConflict, "reward is out of stock")
	case engine.IsClientError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable, retry the request")
	default:
		logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
