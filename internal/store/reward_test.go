package store

import (
	"context"
	"errors"
	"testing"

	"github.com/campuspoints/server/internal/model"
)

func TestRewardCreateAndGet(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	rewards := NewRewardStore(db)

	category := "food"
	created, err := rewards.Create(ctx, "Pizza slice", "One slice", 50, &category, 10, true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := rewards.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected reward")
	}
	if got.Name != "Pizza slice" || got.PointsCost != 50 || got.Stock != 10 || !got.Available {
		t.Errorf("got %+v", got)
	}
	if got.Category == nil || *got.Category != "food" {
		t.Errorf("category = %v, want food", got.Category)
	}
	if got.Unlimited() {
		t.Error("finite stock should not report unlimited")
	}
}

func TestRewardListAvailable(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	rewards := NewRewardStore(db)

	inStock := createReward(t, db, "In stock", 10, 5)
	unlimited := createReward(t, db, "Unlimited", 20, model.UnlimitedStock)
	createReward(t, db, "Sold out", 30, 0)
	unavailable, err := rewards.Create(ctx, "Hidden", "", 40, nil, 5, false)
	if err != nil {
		t.Fatalf("create hidden: %v", err)
	}

	available, err := rewards.ListAvailable(ctx)
	if err != nil {
		t.Fatalf("list available: %v", err)
	}
	if len(available) != 2 {
		t.Fatalf("available = %d, want 2", len(available))
	}
	// Cheapest first.
	if available[0].ID != inStock.ID || available[1].ID != unlimited.ID {
		t.Error("available rewards not ordered by cost")
	}

	all, err := rewards.List(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("all = %d, want 4", len(all))
	}
	_ = unavailable
}

func TestRewardCategories(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	rewards := NewRewardStore(db)

	food := "food"
	merch := "merch"
	if _, err := rewards.Create(ctx, "A", "", 10, &food, -1, true); err != nil {
		t.Fatal(err)
	}
	if _, err := rewards.Create(ctx, "B", "", 10, &food, -1, true); err != nil {
		t.Fatal(err)
	}
	if _, err := rewards.Create(ctx, "C", "", 10, &merch, -1, true); err != nil {
		t.Fatal(err)
	}
	if _, err := rewards.Create(ctx, "D", "", 10, nil, -1, true); err != nil {
		t.Fatal(err)
	}

	categories, err := rewards.Categories(ctx)
	if err != nil {
		t.Fatalf("categories: %v", err)
	}
	if len(categories) != 2 {
		t.Fatalf("categories = %v, want [food merch]", categories)
	}

	byCategory, err := rewards.ListByCategory(ctx, "food")
	if err != nil {
		t.Fatalf("list by category: %v", err)
	}
	if len(byCategory) != 2 {
		t.Errorf("food rewards = %d, want 2", len(byCategory))
	}
}

func TestDecrementStock(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	rewards := NewRewardStore(db)
	reward := createReward(t, db, "Scarce", 10, 2)

	remaining, err := rewards.DecrementStock(ctx, reward.ID)
	if err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if remaining != 1 {
		t.Errorf("remaining = %d, want 1", remaining)
	}

	if _, err := rewards.DecrementStock(ctx, reward.ID); err != nil {
		t.Fatalf("decrement to zero: %v", err)
	}

	remaining, err = rewards.DecrementStock(ctx, reward.ID)
	if !errors.Is(err, ErrOutOfStock) {
		t.Fatalf("expected ErrOutOfStock, got %v", err)
	}
	if remaining != 0 {
		t.Errorf("remaining on failure = %d, want 0", remaining)
	}
}

func TestDecrementStockUnlimited(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	rewards := NewRewardStore(db)
	reward := createReward(t, db, "Endless", 10, model.UnlimitedStock)

	for i := 0; i < 3; i++ {
		remaining, err := rewards.DecrementStock(ctx, reward.ID)
		if err != nil {
			t.Fatalf("decrement unlimited: %v", err)
		}
		if remaining != model.UnlimitedStock {
			t.Errorf("remaining = %d, want %d", remaining, model.UnlimitedStock)
		}
	}
}

func TestIncrementStock(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	rewards := NewRewardStore(db)

	finite := createReward(t, db, "Finite", 10, 3)
	stock, err := rewards.IncrementStock(ctx, finite.ID)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if stock != 4 {
		t.Errorf("stock = %d, want 4", stock)
	}

	// Unlimited rewards are untouched by restock.
	unlimited := createReward(t, db, "Endless", 10, model.UnlimitedStock)
	stock, err = rewards.IncrementStock(ctx, unlimited.ID)
	if err != nil {
		t.Fatalf("increment unlimited: %v", err)
	}
	if stock != model.UnlimitedStock {
		t.Errorf("stock = %d, want %d", stock, model.UnlimitedStock)
	}
}

func TestToggleAvailability(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	rewards := NewRewardStore(db)
	reward := createReward(t, db, "Toggle", 10, 1)

	toggled, err := rewards.ToggleAvailability(ctx, reward.ID)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if toggled.Available {
		t.Error("expected unavailable after toggle")
	}

	toggled, err = rewards.ToggleAvailability(ctx, reward.ID)
	if err != nil {
		t.Fatalf("toggle back: %v", err)
	}
	if !toggled.Available {
		t.Error("expected available after second toggle")
	}
}

func TestRewardUpdateAndDelete(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	rewards := NewRewardStore(db)
	reward := createReward(t, db, "Old name", 10, 1)

	updated, err := rewards.Update(ctx, reward.ID, "New name", "desc", 25, nil, 7, false)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "New name" || updated.PointsCost != 25 || updated.Stock != 7 || updated.Available {
		t.Errorf("updated = %+v", updated)
	}

	if err := rewards.Delete(ctx, reward.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := rewards.GetByID(ctx, reward.ID)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if got != nil {
		t.Error("expected nil after delete")
	}
}
