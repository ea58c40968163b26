package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/campuspoints/server/internal/backup"
	"github.com/campuspoints/server/internal/database"
	"github.com/campuspoints/server/internal/engine"
	"github.com/campuspoints/server/internal/logging"
	"github.com/campuspoints/server/internal/model"
	"github.com/campuspoints/server/internal/server"
	"github.com/campuspoints/server/internal/store"
)

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func main() {
	logger := logging.Setup(env("CAMPUSPOINTS_LOG_LEVEL", "info"))

	port := env("CAMPUSPOINTS_PORT", "8080")
	dbPath := env("CAMPUSPOINTS_DB_PATH", "campuspoints.db")

	jwtSecret := os.Getenv("CAMPUSPOINTS_JWT_SECRET")
	if jwtSecret == "" {
		logger.Error("CAMPUSPOINTS_JWT_SECRET is required")
		os.Exit(1)
	}

	db, err := database.Open(dbPath)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	cfg := server.Config{
		JWTSecret: jwtSecret,
		TokenTTL:  time.Duration(envInt("CAMPUSPOINTS_TOKEN_TTL_HOURS", 24)) * time.Hour,
		Backup: backup.Config{
			S3: backup.S3Config{
				Endpoint:  os.Getenv("CAMPUSPOINTS_S3_ENDPOINT"),
				Bucket:    os.Getenv("CAMPUSPOINTS_S3_BUCKET"),
				Region:    env("CAMPUSPOINTS_S3_REGION", "us-east-1"),
				AccessKey: os.Getenv("CAMPUSPOINTS_S3_ACCESS_KEY"),
				SecretKey: os.Getenv("CAMPUSPOINTS_S3_SECRET_KEY"),
			},
			DBPath:        dbPath,
			Passphrase:    os.Getenv("CAMPUSPOINTS_BACKUP_PASSPHRASE"),
			ScheduleHour:  envInt("CAMPUSPOINTS_BACKUP_HOUR", 3),
			RetentionDays: envInt("CAMPUSPOINTS_BACKUP_RETENTION_DAYS", 30),
		},
	}
	if origins := os.Getenv("CAMPUSPOINTS_WS_ORIGINS"); origins != "" {
		cfg.OriginPatterns = strings.Split(origins, ",")
	}

	srv := server.New(db, cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := bootstrapAdmin(ctx, db, srv.Engine(), logger); err != nil {
		logger.Error("bootstrap admin", "error", err)
		os.Exit(1)
	}

	srv.BackupManager().Start(ctx)
	defer srv.BackupManager().Stop()

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", fmt.Sprintf("http://localhost:%s", port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

// bootstrapAdmin creates the operator's admin account on first start and
// funds its grant pool. Points only ever enter the system through this
// funding entry.
func bootstrapAdmin(ctx context.Context, db *sql.DB, eng *engine.Engine, logger *slog.Logger) error {
	email := strings.ToLower(strings.TrimSpace(os.Getenv("CAMPUSPOINTS_ADMIN_EMAIL")))
	password := os.Getenv("CAMPUSPOINTS_ADMIN_PASSWORD")
	if email == "" || password == "" {
		return nil
	}

	accounts := store.NewAccountStore(db)
	existing, err := accounts.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("lookup admin: %w", err)
	}
	if existing != nil {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	admin, err := accounts.Create(ctx, email, string(hash), "Points", "Admin", nil, model.RoleAdmin)
	if err != nil {
		return fmt.Errorf("create admin: %w", err)
	}

	pool := int64(envInt("CAMPUSPOINTS_INITIAL_POOL", 0))
	if pool > 0 {
		if _, err := eng.Fund(ctx, admin.ID, pool, "initial grant pool"); err != nil {
			return fmt.Errorf("fund admin pool: %w", err)
		}
	}

	logger.Info("admin account created", "email", email, "pool", pool)
	return nil
}
