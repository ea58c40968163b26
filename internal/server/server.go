// Package server wires the stores, engine, and handlers into one HTTP
// router.
package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/campuspoints/server/internal/auth"
	"github.com/campuspoints/server/internal/backup"
	"github.com/campuspoints/server/internal/engine"
	"github.com/campuspoints/server/internal/handler"
	"github.com/campuspoints/server/internal/middleware"
	"github.com/campuspoints/server/internal/store"
	ws "github.com/campuspoints/server/internal/websocket"
)

// Config holds the server's runtime settings.
type Config struct {
	JWTSecret      string
	TokenTTL       time.Duration
	OriginPatterns []string
	Backup         backup.Config
}

type Server struct {
	db            *sql.DB
	hub           *ws.Hub
	engine        *engine.Engine
	tokens        *auth.TokenManager
	authH         *handler.AuthHandler
	pointsH       *handler.PointsHandler
	rewardH       *handler.RewardHandler
	adminH        *handler.AdminHandler
	backupH       *handler.BackupHandler
	backupManager *backup.Manager
	loginLimiter  *middleware.RateLimiter
	origins       []string
	logger        *slog.Logger
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))
	eng := engine.New(db, logger.With("component", "engine"))
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)

	accountStore := store.NewAccountStore(db)
	rewardStore := store.NewRewardStore(db)
	redemptionStore := store.NewRedemptionStore(db)
	backupStore := store.NewBackupStore(db)

	backupMgr := backup.NewManager(cfg.Backup, db, backupStore, logger.With("component", "backup"))

	return &Server{
		db:            db,
		hub:           hub,
		engine:        eng,
		tokens:        tokens,
		authH:         handler.NewAuthHandler(accountStore, tokens, logger.With("component", "auth")),
		pointsH:       handler.NewPointsHandler(eng, hub, logger.With("component", "points")),
		rewardH:       handler.NewRewardHandler(eng, rewardStore, hub, logger.With("component", "reward")),
		adminH:        handler.NewAdminHandler(eng, accountStore, redemptionStore, logger.With("component", "admin")),
		backupH:       handler.NewBackupHandler(backupMgr, logger.With("component", "backup")),
		backupManager: backupMgr,
		loginLimiter:  middleware.NewRateLimiter(10, time.Minute),
		origins:       cfg.OriginPatterns,
		logger:        logger,
	}
}

// Engine returns the workflow engine for startup tasks.
func (s *Server) Engine() *engine.Engine {
	return s.engine
}

// BackupManager returns the backup manager so main can start and stop its
// schedule loop.
func (s *Server) BackupManager() *backup.Manager {
	return s.backupManager
}

// Hub returns the websocket hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes. Login and registration share a per-IP rate limit.
	outerMux.Handle("POST /api/auth/register", s.loginLimiter.Middleware(http.HandlerFunc(s.authH.Register)))
	outerMux.Handle("POST /api/auth/login", s.loginLimiter.Middleware(http.HandlerFunc(s.authH.Login)))
	outerMux.HandleFunc("GET /health", s.healthHandler)

	// Everything else requires a bearer token.
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	requireAuth := middleware.RequireAuth(s.tokens)
	outerMux.Handle("/", requireAuth(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/auth/me", s.authH.Me)
	mux.Handle("GET /ws", ws.Handler(s.hub, s.logger.With("component", "websocket"), s.origins))

	// Account read routes. Handlers enforce that students only read their
	// own data.
	mux.HandleFunc("GET /api/accounts/{id}/points", s.pointsH.Summary)
	mux.HandleFunc("GET /api/accounts/{id}/ledger", s.pointsH.Ledger)
	mux.HandleFunc("GET /api/accounts/{id}/redemptions", s.pointsH.Redemptions)
	mux.HandleFunc("GET /api/accounts/{id}/activity", s.pointsH.Activity)

	// Reward catalog and redemption.
	mux.HandleFunc("GET /api/rewards", s.rewardH.List)
	mux.HandleFunc("GET /api/rewards/categories", s.rewardH.Categories)
	mux.HandleFunc("GET /api/rewards/popular", s.rewardH.Popular)
	mux.HandleFunc("GET /api/rewards/{id}", s.rewardH.Get)
	mux.HandleFunc("POST /api/rewards/{id}/redeem", s.rewardH.Redeem)
	mux.HandleFunc("POST /api/redemptions/{id}/cancel", s.rewardH.Cancel)

	// Admin routes.
	admin := func(h http.HandlerFunc) http.Handler {
		return middleware.RequireAdmin(h)
	}
	mux.Handle("POST /api/students/{id}/points", admin(s.pointsH.Grant))
	mux.Handle("DELETE /api/students/{id}/points", admin(s.pointsH.Revoke))
	mux.Handle("POST /api/rewards", admin(s.rewardH.Create))
	mux.Handle("PUT /api/rewards/{id}", admin(s.rewardH.Update))
	mux.Handle("POST /api/rewards/{id}/toggle", admin(s.rewardH.ToggleAvailability))
	mux.Handle("DELETE /api/rewards/{id}", admin(s.rewardH.Delete))
	mux.Handle("GET /api/admin/students", admin(s.adminH.Students))
	mux.Handle("GET /api/admin/redemptions/pending", admin(s.adminH.PendingRedemptions))
	mux.Handle("GET /api/admin/stats", admin(s.adminH.Stats))
	mux.Handle("GET /api/admin/integrity", admin(s.adminH.Integrity))
	mux.Handle("GET /api/admin/backups", admin(s.backupH.List))
	mux.Handle("POST /api/admin/backups", admin(s.backupH.Run))
	mux.Handle("GET /api/admin/backups/{id}/download", admin(s.backupH.Download))
	mux.Handle("POST /api/admin/backups/{id}/restore", admin(s.backupH.Restore))
}
