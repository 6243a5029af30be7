package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/storyforge/credits-api/internal/config"
	"github.com/storyforge/credits-api/internal/domain/audit"
	"github.com/storyforge/credits-api/internal/domain/credit"
	"github.com/storyforge/credits-api/internal/domain/gift"
	"github.com/storyforge/credits-api/internal/middleware"
	"github.com/storyforge/credits-api/internal/pkg/database"
)

func main() {
	cfg := config.Load()
	setupLogger(cfg)

	log.Info().
		Dur("interval", cfg.SweepInterval).
		Dur("grace", cfg.SweepGrace).
		Dur("session_grace", cfg.SweepSessionGrace).
		Msg("Starting sweeper")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(rdb)

	auditor := audit.NewSQLRecorder()
	creditRepo := credit.NewRepository(db, auditor)
	creditSvc := credit.NewService(creditRepo)
	giftRepo := gift.NewRepository(db, creditRepo, auditor)
	giftSvc := gift.NewService(giftRepo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received")
		cancel()
	}()

	// Run once at startup, then on the ticker.
	runSweep(ctx, cfg, rdb, creditSvc, giftSvc)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Sweeper exited properly")
			return
		case <-ticker.C:
			runSweep(ctx, cfg, rdb, creditSvc, giftSvc)
		}
	}
}

// runSweep performs one cleanup pass. With Redis configured, a short lease
// keeps concurrent sweeper instances from running the same pass.
func runSweep(ctx context.Context, cfg *config.Config, rdb *redis.Client, creditSvc *credit.Service, giftSvc *gift.Service) {
	if ctx.Err() != nil {
		return
	}

	if rdb != nil {
		ok, err := rdb.SetNX(ctx, cfg.SweepLeaseKey, "1", cfg.SweepInterval).Result()
		if err != nil {
			log.Warn().Err(err).Msg("Sweep lease check failed, running anyway")
		} else if !ok {
			log.Debug().Msg("Sweep lease held elsewhere, skipping pass")
			return
		}
	}

	runID := uuid.New().String()
	ctx = context.WithValue(ctx, middleware.RequestIDKey, runID)

	start := time.Now()
	cancelled, err := creditSvc.CleanupOrphanedReservations(ctx, cfg.SweepGrace, cfg.SweepSessionGrace, cfg.SweepBatchSize)
	if err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("Reservation sweep failed")
	}

	expired, err := giftSvc.ExpirePending(ctx, cfg.SweepBatchSize)
	if err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("Gift expiry sweep failed")
	}

	log.Info().
		Str("run_id", runID).
		Int("reservations_cancelled", cancelled).
		Int("gifts_expired", expired).
		Dur("took", time.Since(start)).
		Msg("Sweep pass complete")
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
