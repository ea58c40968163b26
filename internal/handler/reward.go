package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/campuspoints/server/internal/auth"
	"github.com/campuspoints/server/internal/engine"
	"github.com/campuspoints/server/internal/model"
	"github.com/campuspoints/server/internal/store"
	"github.com/campuspoints/server/internal/websocket"
)

type RewardHandler struct {
	engine  *engine.Engine
	rewards *store.RewardStore
	hub     *websocket.Hub
	logger  *slog.Logger
}

func NewRewardHandler(eng *engine.Engine, rewards *store.RewardStore, hub *websocket.Hub, logger *slog.Logger) *RewardHandler {
	return &RewardHandler{engine: eng, rewards: rewards, hub: hub, logger: logger}
}

func (h *RewardHandler) broadcast(msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(msg)
	}
}

type rewardRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	PointsCost  int64   `json:"points_cost"`
	Category    *string `json:"category"`
	Stock       *int64  `json:"stock"`
	Available   bool    `json:"available"`
}

func (req *rewardRequest) validate() string {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return "name is required"
	}
	if req.PointsCost <= 0 {
		return "points_cost must be a positive integer"
	}
	if req.Stock != nil && *req.Stock < model.UnlimitedStock {
		return "stock must be -1 (unlimited) or >= 0"
	}
	return ""
}

func (req *rewardRequest) stockOrUnlimited() int64 {
	if req.Stock == nil {
		return model.UnlimitedStock
	}
	return *req.Stock
}

func (h *RewardHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req rewardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	reward, err := h.rewards.Create(r.Context(), req.Name, req.Description, req.PointsCost, req.Category, req.stockOrUnlimited(), req.Available)
	if err != nil {
		h.logger.Error("create reward", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create reward")
		return
	}

	h.broadcast(websocket.NewMessage("reward", "created", reward.ID, nil))
	writeJSON(w, http.StatusCreated, reward)
}

// List handles GET /api/rewards. Students see only available rewards with
// stock; admins see everything. An optional category filter narrows the list.
func (h *RewardHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		rewards []model.Reward
		err     error
	)
	switch {
	case r.URL.Query().Get("category") != "":
		rewards, err = h.rewards.ListByCategory(r.Context(), r.URL.Query().Get("category"))
	case auth.IsAdmin(r.Context()):
		rewards, err = h.rewards.List(r.Context())
	default:
		rewards, err = h.rewards.ListAvailable(r.Context())
	}
	if err != nil {
		h.logger.Error("list rewards", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list rewards")
		return
	}
	if rewards == nil {
		rewards = []model.Reward{}
	}
	writeJSON(w, http.StatusOK, rewards)
}

func (h *RewardHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	reward, err := h.rewards.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("get reward", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get reward")
		return
	}
	if reward == nil {
		writeError(w, http.StatusNotFound, "reward not found")
		return
	}
	writeJSON(w, http.StatusOK, reward)
}

func (h *RewardHandler) Categories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.rewards.Categories(r.Context())
	if err != nil {
		h.logger.Error("list categories", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list categories")
		return
	}
	if categories == nil {
		categories = []string{}
	}
	writeJSON(w, http.StatusOK, categories)
}

func (h *RewardHandler) Popular(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 50 {
			limit = n
		}
	}
	popular, err := h.rewards.Popular(r.Context(), limit)
	if err != nil {
		h.logger.Error("popular rewards", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list popular rewards")
		return
	}
	if popular == nil {
		popular = []model.PopularReward{}
	}
	writeJSON(w, http.StatusOK, popular)
}

func (h *RewardHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	existing, err := h.rewards.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("get reward", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get reward")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "reward not found")
		return
	}

	var req rewardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	reward, err := h.rewards.Update(r.Context(), id, req.Name, req.Description, req.PointsCost, req.Category, req.stockOrUnlimited(), req.Available)
	if err != nil {
		h.logger.Error("update reward", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update reward")
		return
	}

	h.broadcast(websocket.NewMessage("reward", "updated", id, nil))
	writeJSON(w, http.StatusOK, reward)
}

func (h *RewardHandler) ToggleAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	reward, err := h.rewards.ToggleAvailability(r.Context(), id)
	if err != nil {
		h.logger.Error("toggle reward", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to toggle reward")
		return
	}
	if reward == nil {
		writeError(w, http.StatusNotFound, "reward not found")
		return
	}

	h.broadcast(websocket.NewMessage("reward", "updated", id, nil))
	writeJSON(w, http.StatusOK, reward)
}

func (h *RewardHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.rewards.Delete(r.Context(), id); err != nil {
		h.logger.Error("delete reward", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete reward")
		return
	}

	h.broadcast(websocket.NewMessage("reward", "deleted", id, nil))
	w.WriteHeader(http.StatusNoContent)
}

// Redeem handles POST /api/rewards/{id}/redeem. The redeeming account comes
// from the token.
func (h *RewardHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	rewardID, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	accountID := auth.AccountID(r.Context())
	res, err := h.engine.Redeem(r.Context(), accountID, rewardID)
	if err != nil {
		writeEngineError(w, h.logger, err)
		return
	}

	h.broadcast(websocket.NewMessage("reward", "redeemed", rewardID, map[string]any{
		"account_id":      accountID,
		"redemption_id":   res.Redemption.ID,
		"points_spent":    res.Redemption.PointsSpent,
		"stock_remaining": res.StockRemaining,
	}))

	writeJSON(w, http.StatusCreated, res)
}

// Cancel handles POST /api/redemptions/{id}/cancel. Students may cancel
// their own redemptions; admins may cancel anyone's.
func (h *RewardHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	redemptionID, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	redemption, err := h.engine.Redemption(r.Context(), redemptionID)
	if err != nil {
		writeEngineError(w, h.logger, err)
		return
	}
	if !auth.CanAccess(r.Context(), redemption.AccountID) {
		writeError(w, http.StatusForbidden, "access denied")
		return
	}

	res, err := h.engine.CancelRedemption(r.Context(), redemptionID)
	if err != nil {
		writeEngineError(w, h.logger, err)
		return
	}

	h.broadcast(websocket.NewMessage("redemption", "cancelled", redemptionID, map[string]any{
		"account_id": res.Redemption.AccountID,
		"refunded":   res.RefundedAmount,
	}))

	writeJSON(w, http.StatusOK, res)
}
