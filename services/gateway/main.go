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

	"github.com/gatherpoint/community-backend/pkg/config"
	"github.com/gatherpoint/community-backend/pkg/logger"
	mw "github.com/gatherpoint/community-backend/pkg/middleware"
	"github.com/gatherpoint/community-backend/services/gateway/internal/handlers"
	"github.com/gatherpoint/community-backend/services/gateway/internal/proxy"
)

func main() {
	cfg := config.Load()

	checkinBaseURL := getServiceURL("CHECKIN_SERVICE_URL", "http://localhost:8080")
	checkinProxy := proxy.NewServiceProxy(checkinBaseURL)

	h := handlers.New(checkinProxy)

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("gateway"))
	r.Use(mw.Logging)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.ErrorContext(r.Context(), "Panic recovered", "error", err)
					http.Error(w, "Internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	})
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000", "*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(mw.Health)
	r.Use(mw.Metrics)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/checkin/active", h.ActiveSession)
		r.Post("/checkin/redeem", h.Redeem)

		r.Route("/organizer", func(r chi.Router) {
			r.Post("/sessions", h.OrganizerSessions)
			r.Get("/sessions", h.OrganizerSessions)
			r.Delete("/sessions", h.OrganizerSessions)
			r.Get("/sessions/{id}", h.OrganizerSession)
			r.Post("/sessions/{id}/pause", h.OrganizerSession)
			r.Post("/sessions/{id}/resume", h.OrganizerSession)
			r.Post("/sessions/{id}/close", h.OrganizerSession)
			r.Get("/sessions/{id}/redemptions", h.OrganizerSession)
			r.Post("/reconcile", h.OrganizerReconcile)
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

		logger.Info("Shutting down gateway service...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Gateway shutdown error", "error", err)
		}
	}()

	logger.Info("Starting gateway service", "port", cfg.Server.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Gateway server error", "error", err)
		os.Exit(1)
	}
}

func getServiceURL(envKey, fallback string) string {
	if url := os.Getenv(envKey); url != "" {
		return url
	}
	return fallback
}
