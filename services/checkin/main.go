package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"github.com/gatherpoint/community-backend/pkg/auth"
	"github.com/gatherpoint/community-backend/pkg/cache"
	"github.com/gatherpoint/community-backend/pkg/config"
	"github.com/gatherpoint/community-backend/pkg/database"
	"github.com/gatherpoint/community-backend/pkg/events"
	"github.com/gatherpoint/community-backend/pkg/logger"
	mw "github.com/gatherpoint/community-backend/pkg/middleware"
	"github.com/gatherpoint/community-backend/services/checkin/internal/handlers"
	"github.com/gatherpoint/community-backend/services/checkin/internal/ledger"
	"github.com/gatherpoint/community-backend/services/checkin/internal/repository"
	"github.com/gatherpoint/community-backend/services/checkin/internal/service"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	eventBus, err := events.NewNATSEventBus(cfg.NATS.URL)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	// Redis is an optimization for the active-session read path; the service
	// runs read-through when it is unavailable.
	var activeCache service.ActiveCache = service.NoopActiveCache{}
	if redisClient, err := cache.Connect(ctx, cfg.Redis.URL); err != nil {
		logger.Warn("Redis unavailable, active session cache disabled", "error", err)
	} else {
		defer redisClient.Close()
		activeCache = service.NewRedisActiveCache(redisClient)
	}

	var pointLedger ledger.Ledger
	if cfg.Ledger.DevMode {
		pointLedger = ledger.NewDevLedger()
	} else {
		pointLedger = ledger.NewHTTPLedger(cfg.Ledger.URL, cfg.Ledger.Timeout)
	}

	// Repositories
	sessionRepo := repository.NewSessionRepository(pool)
	redemptionRepo := repository.NewRedemptionRepository(pool)

	// Services
	lifecycleService := service.NewLifecycleService(sessionRepo, redemptionRepo, eventBus, activeCache, cfg)
	redemptionService := service.NewRedemptionService(sessionRepo, redemptionRepo, pointLedger, eventBus)
	statusService := service.NewStatusService(sessionRepo, activeCache)

	h := handlers.New(lifecycleService, redemptionService, statusService, cfg)

	// Background pending-credit reconciliation
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go runReconcileLoop(sweepCtx, redemptionService, cfg.Checkin.ReconcileInterval)

	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("checkin"))
	r.Use(mw.Logging)
	r.Use(mw.Health)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/", func(r chi.Router) {
		// Dashboard and scanner entry
		r.Get("/checkin/active", h.ActiveSession)

		// Scanner submission (any authenticated member)
		r.With(h.RequireJWT("")).Post("/checkin/redeem", h.Redeem)

		// Organizer console
		r.Route("/organizer", func(r chi.Router) {
			r.Use(h.RequireJWT(auth.RoleOrganizer))
			r.Post("/sessions", h.CreateSession)
			r.Get("/sessions", h.ListSessions)
			r.Get("/sessions/{id}", h.GetSession)
			r.Post("/sessions/{id}/pause", h.PauseSession)
			r.Post("/sessions/{id}/resume", h.ResumeSession)
			r.Post("/sessions/{id}/close", h.CloseSession)
			r.Get("/sessions/{id}/redemptions", h.ListRedemptions)
			r.Delete("/sessions", h.ClearHistory)
			r.Post("/reconcile", h.Reconcile)
		})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down checkin service...")
		stopSweep()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Checkin service shutdown error", "error", err)
		}
	}()

	logger.Info("Starting checkin service", "port", cfg.Server.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Checkin service error", "error", err)
		os.Exit(1)
	}
}

func runReconcileLoop(ctx context.Context, redemptionService service.RedemptionService, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := redemptionService.ReconcilePendingCredits(ctx); err != nil {
				logger.Error("Pending credit reconciliation failed", "error", err)
			}
		}
	}
}
