// Command server runs the NocoDB code generator HTTP service.
//
// Configuration is read from the environment (optionally seeded from a .env
// file). See internal/config for the full list of variables.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/nocodb-codegen/internal/config"
	httpapi "github.com/tbourn/nocodb-codegen/internal/http"
	"github.com/tbourn/nocodb-codegen/internal/nocodb"
	"github.com/tbourn/nocodb-codegen/internal/observability"
	"github.com/tbourn/nocodb-codegen/internal/repo"
	"github.com/tbourn/nocodb-codegen/internal/services"
	"github.com/tbourn/nocodb-codegen/internal/sysutil"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	logger := setupLogging(cfg)
	logger.Info().
		Str("version", version).
		Str("port", cfg.Port).
		Str("nocodb_url", cfg.NocoDB.BaseURL).
		Bool("history", cfg.HistoryEnabled()).
		Int("max_limit", cfg.MaxLimit).
		Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		logger.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := openHistory(cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("db_path", cfg.DBPath).Msg("open run history")
	}

	client := nocodb.New(cfg.NocoDB, &http.Client{Transport: http.DefaultTransport})
	logger.Info().Str("primary_key", client.PrimaryKey()).Msg("nocodb client ready")
	deps := httpapi.Deps{
		Codes: &services.CodeService{
			Client:         client,
			DB:             db,
			IdempotencyTTL: cfg.IdempotencyTTL,
			MaxLimit:       cfg.MaxLimit,
			RunStaleAfter:  cfg.WriteTimeout, // no caller can still get the result past it
		},
		Runs:    &services.RunService{DB: db},
		Version: version,
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, deps, cfg)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server failed")
		}
	}

	// In-flight batches get the shutdown window to finish their write-backs.
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(sctx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if err := shutdownOTel(sctx); err != nil {
		logger.Warn().Err(err).Msg("otel shutdown")
	}
	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	logger.Info().Msg("stopped")
}

// setupLogging installs the global logger and makes it the fallback for
// zerolog.Ctx, which the services use.
func setupLogging(cfg config.Config) *zerolog.Logger {
	l := sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)
	zerolog.DefaultContextLogger = &log.Logger
	return &l
}

// openHistory opens and migrates the run history database, or returns nil
// when DB_PATH=off.
func openHistory(cfg config.Config) (*gorm.DB, error) {
	if !cfg.HistoryEnabled() {
		return nil, nil
	}
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}
