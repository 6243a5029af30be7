package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/storyforge/credits-api/internal/config"
	"github.com/storyforge/credits-api/internal/domain/audit"
	"github.com/storyforge/credits-api/internal/domain/credit"
	"github.com/storyforge/credits-api/internal/domain/gift"
	"github.com/storyforge/credits-api/internal/domain/order"
	"github.com/storyforge/credits-api/internal/middleware"
	"github.com/storyforge/credits-api/internal/pkg/database"
	"github.com/storyforge/credits-api/internal/pkg/jwt"
	pkgresponse "github.com/storyforge/credits-api/internal/pkg/response"
)

func main() {
	cfg := config.Load()
	setupLogger(cfg)

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting credits API")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	// ---------- Repositories and services ----------
	auditor := audit.NewSQLRecorder()
	creditRepo := credit.NewRepository(db, auditor)
	creditSvc := credit.NewService(creditRepo)
	orderRepo := order.NewRepository(db)
	orderSvc := order.NewService(db, orderRepo, creditRepo, auditor)
	giftRepo := gift.NewRepository(db, creditRepo, auditor)
	giftSvc := gift.NewService(giftRepo)

	creditHandler := credit.NewHandler(creditSvc, cfg.SignupBonusCredits)
	orderHandler := order.NewHandler(orderSvc)
	giftHandler := gift.NewHandler(giftSvc)
	auditHandler := audit.NewHandler(db)

	authMiddleware := middleware.Auth(jwtService)

	// ---------- Router ----------
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))
	r.Use(chimw.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, map[string]string{
			"status":  "ok",
			"version": "1.0.0",
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/credits", creditHandler.Routes(authMiddleware))
		r.Mount("/orders", orderHandler.Routes(authMiddleware))
		r.Mount("/gifts", giftHandler.Routes(authMiddleware))
		r.Mount("/audit", auditHandler.Routes(authMiddleware))
	})

	r.Mount("/webhooks", orderHandler.WebhookRoutes(middleware.WebhookSecret(cfg.PaymentWebhookSecret)))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}

func setupLogger(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}
}
