package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/medops/hospital-reservations/internal/config"
	"github.com/medops/hospital-reservations/internal/db"
	"github.com/medops/hospital-reservations/internal/outbox"
	redisclient "github.com/medops/hospital-reservations/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("config load error")
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("component", "outbox-relay").Logger()
	logger.Info().Str("env", cfg.Env).Dur("interval", cfg.RelayInterval).Msg("outbox-relay starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	store := outbox.NewPgStore(pgPool)
	publisher := outbox.NewRedisPublisher(rdb, "events")
	relay := outbox.NewRelay(store, publisher, cfg.RelayBatchSize, logger)

	// Drain whatever accumulated while the relay was down, then poll.
	if n, err := relay.RunOnce(rootCtx); err != nil {
		logger.Error().Err(err).Msg("initial relay run failed")
	} else if n > 0 {
		logger.Info().Int("delivered", n).Msg("initial relay run complete")
	}

	relay.Run(rootCtx, cfg.RelayInterval)
}
