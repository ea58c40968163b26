package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/campuspoints/server/internal/auth"
	"github.com/campuspoints/server/internal/engine"
	"github.com/campuspoints/server/internal/model"
	"github.com/campuspoints/server/internal/websocket"
)

type PointsHandler struct {
	engine *engine.Engine
	hub    *websocket.Hub
	logger *slog.Logger
}

func NewPointsHandler(eng *engine.Engine, hub *websocket.Hub, logger *slog.Logger) *PointsHandler {
	return &PointsHandler{engine: eng, hub: hub, logger: logger}
}

func (h *PointsHandler) broadcast(msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(msg)
	}
}

type adjustRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

// Grant handles POST /api/students/{id}/points. The acting admin is taken
// from the token, never from the request body.
func (h *PointsHandler) Grant(w http.ResponseWriter, r *http.Request) {
	studentID, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	res, err := h.engine.Grant(r.Context(), auth.AccountID(r.Context()), studentID, req.Amount, req.Reason)
	if err != nil {
		writeEngineError(w, h.logger, err)
		return
	}

	h.broadcast(websocket.NewMessage("points", "granted", studentID, map[string]any{
		"amount":  req.Amount,
		"balance": res.StudentBalance,
	}))

	writeJSON(w, http.StatusOK, res)
}

// Revoke handles DELETE /api/students/{id}/points. Revoked points leave the
// system; they do not return to the admin's pool.
func (h *PointsHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	studentID, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	res, err := h.engine.Revoke(r.Context(), auth.AccountID(r.Context()), studentID, req.Amount, req.Reason)
	if err != nil {
		writeEngineError(w, h.logger, err)
		return
	}

	h.broadcast(websocket.NewMessage("points", "revoked", studentID, map[string]any{
		"amount":  req.Amount,
		"balance": res.StudentBalance,
	}))

	writeJSON(w, http.StatusOK, res)
}

// Summary handles GET /api/accounts/{id}/points. Optional from/to query
// parameters (RFC 3339) bound the credit and debit totals.
func (h *PointsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	accountID, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if !auth.CanAccess(r.Context(), accountID) {
		writeError(w, http.StatusForbidden, "access denied")
		return
	}

	from := time.Time{}
	to := time.Now().UTC()
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid from timestamp")
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid to timestamp")
			return
		}
	}

	summary, err := h.engine.Summary(r.Context(), accountID, from, to)
	if err != nil {
		writeEngineError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Ledger handles GET /api/accounts/{id}/ledger with page/limit pagination,
// newest entries first.
func (h *PointsHandler) Ledger(w http.ResponseWriter, r *http.Request) {
	accountID, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if !auth.CanAccess(r.Context(), accountID) {
		writeError(w, http.StatusForbidden, "access denied")
		return
	}

	limit, offset := parsePagination(r)
	entries, err := h.engine.History(r.Context(), accountID, limit, offset)
	if err != nil {
		writeEngineError(w, h.logger, err)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// Redemptions handles GET /api/accounts/{id}/redemptions.
func (h *PointsHandler) Redemptions(w http.ResponseWriter, r *http.Request) {
	accountID, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if !auth.CanAccess(r.Context(), accountID) {
		writeError(w, http.StatusForbidden, "access denied")
		return
	}

	limit, offset := parsePagination(r)
	redemptions, err := h.engine.Redemptions(r.Context(), accountID, limit, offset)
	if err != nil {
		writeEngineError(w, h.logger, err)
		return
	}
	if redemptions == nil {
		redemptions = []model.Redemption{}
	}
	writeJSON(w, http.StatusOK, redemptions)
}

// Activity handles GET /api/accounts/{id}/activity?days=N.
func (h *PointsHandler) Activity(w http.ResponseWriter, r *http.Request) {
	accountID, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if !auth.CanAccess(r.Context(), accountID) {
		writeError(w, http.StatusForbidden, "access denied")
		return
	}

	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 365 {
			days = n
		}
	}

	activity, err := h.engine.Activity(r.Context(), accountID, days)
	if err != nil {
		writeEngineError(w, h.logger, err)
		return
	}
	if activity == nil {
		activity = []model.DailyActivity{}
	}
	writeJSON(w, http.StatusOK, activity)
}
