package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/campuspoints/server/internal/engine"
	"github.com/campuspoints/server/internal/model"
	"github.com/campuspoints/server/internal/store"
)

// AdminHandler serves the admin dashboard endpoints. Every route here is
// behind the admin middleware.
type AdminHandler struct {
	engine      *engine.Engine
	accounts    *store.AccountStore
	redemptions *store.RedemptionStore
	logger      *slog.Logger
}

func NewAdminHandler(eng *engine.Engine, accounts *store.AccountStore, redemptions *store.RedemptionStore, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{engine: eng, accounts: accounts, redemptions: redemptions, logger: logger}
}

// Students handles GET /api/admin/students.
func (h *AdminHandler) Students(w http.ResponseWriter, r *http.Request) {
	students, err := h.accounts.List(r.Context(), model.RoleStudent)
	if err != nil {
		h.logger.Error("list students", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list students")
		return
	}
	if students == nil {
		students = []model.Account{}
	}
	writeJSON(w, http.StatusOK, students)
}

// PendingRedemptions handles GET /api/admin/redemptions/pending, oldest
// first so the fulfillment queue is worked in order.
func (h *AdminHandler) PendingRedemptions(w http.ResponseWriter, r *http.Request) {
	pending, err := h.engine.PendingRedemptions(r.Context())
	if err != nil {
		writeEngineError(w, h.logger, err)
		return
	}
	if pending == nil {
		pending = []model.Redemption{}
	}
	writeJSON(w, http.StatusOK, pending)
}

// Stats handles GET /api/admin/stats?days=N.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 365 {
			days = n
		}
	}

	since := time.Now().UTC().AddDate(0, 0, -days)
	stats, err := h.redemptions.Stats(r.Context(), since)
	if err != nil {
		h.logger.Error("redemption stats", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Integrity handles GET /api/admin/integrity. It audits every account's
// balance against its ledger sum and reports any mismatches.
func (h *AdminHandler) Integrity(w http.ResponseWriter, r *http.Request) {
	checks, err := h.engine.VerifyLedger(r.Context())
	if err != nil {
		writeEngineError(w, h.logger, err)
		return
	}

	inconsistent := []store.BalanceCheck{}
	for _, c := range checks {
		if !c.Consistent() {
			inconsistent = append(inconsistent, c)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accounts_checked": len(checks),
		"consistent":       len(inconsistent) == 0,
		"inconsistent":     inconsistent,
	})
}
