package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/campuspoints/server/internal/database"
	"github.com/campuspoints/server/internal/model"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createAccount(t *testing.T, db *sql.DB, email, role string) *model.Account {
	t.Helper()
	account, err := NewAccountStore(db).Create(context.Background(), email, "hash", "Test", "User", nil, role)
	if err != nil {
		t.Fatalf("create account %s: %v", email, err)
	}
	return account
}

func createReward(t *testing.T, db *sql.DB, name string, cost, stock int64) *model.Reward {
	t.Helper()
	reward, err := NewRewardStore(db).Create(context.Background(), name, "", cost, nil, stock, true)
	if err != nil {
		t.Fatalf("create reward %s: %v", name, err)
	}
	return reward
}
