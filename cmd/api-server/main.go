package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/medops/hospital-reservations/internal/admission"
	"github.com/medops/hospital-reservations/internal/api"
	"github.com/medops/hospital-reservations/internal/auth"
	"github.com/medops/hospital-reservations/internal/booking"
	"github.com/medops/hospital-reservations/internal/config"
	"github.com/medops/hospital-reservations/internal/db"
	redisclient "github.com/medops/hospital-reservations/internal/redis"
	"github.com/medops/hospital-reservations/internal/slot"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("config load error")
	}

	logger := newLogger(cfg.Env)
	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

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

	if cfg.Env == "dev" {
		if err := db.EnsureSchema(rootCtx, pgPool); err != nil {
			logger.Fatal().Err(err).Msg("schema error")
		}
	}

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

	acl := auth.NewDepartmentACL()
	slots := slot.NewService(slot.NewPgRepository(pgPool), acl)
	bookings := booking.NewService(booking.NewPgRepository(pgPool))
	admissions := admission.NewService(admission.NewPgRepository(pgPool), acl)

	router := api.NewRouter(api.RouterConfig{
		Slots:      slots,
		Bookings:   bookings,
		Admissions: admissions,
		PgPool:     pgPool,
		Redis:      rdb,
		JWTSecret:  []byte(cfg.JWTSecret),
		Logger:     logger,
		Env:        cfg.Env,
		Version:    version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("api-server stopped")
}

func newLogger(env string) zerolog.Logger {
	if env == "dev" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
