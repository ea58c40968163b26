package model

import "time"

// UnlimitedStock is the sentinel stock value for rewards that never run out.
const UnlimitedStock = -1

type Reward struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	PointsCost  int64     `json:"points_cost"`
	Category    *string   `json:"category,omitempty"`
	Stock       int64     `json:"stock"`
	Available   bool      `json:"available"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Unlimited reports whether the reward has no stock limit.
func (r *Reward) Unlimited() bool {
	return r.Stock == UnlimitedStock
}

// Redemption statuses. Completed redemptions can be cancelled, which adds
// compensating ledger entries rather than deleting history.
const (
	RedemptionPending   = "pending"
	RedemptionCompleted = "completed"
	RedemptionCancelled = "cancelled"
)

type Redemption struct {
	ID          int64     `json:"id"`
	AccountID   int64     `json:"account_id"`
	RewardID    int64     `json:"reward_id"`
	PointsSpent int64     `json:"points_spent"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PopularReward is a reward annotated with its redemption count.
type PopularReward struct {
	Reward
	RedemptionCount int64 `json:"redemption_count"`
}
