// Command ea-api serves the EA dashboard API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"eadash.io/internal/auth"
	"eadash.io/internal/config"
	"eadash.io/internal/httpapi"
	"eadash.io/internal/migrate"
	"eadash.io/internal/obs"
	"eadash.io/internal/records"
	"eadash.io/internal/store"
	"eadash.io/internal/store/memstore"
	"eadash.io/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ea-api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := obs.NewLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer obs.SetLogger(logger)()
	defer func() { _ = logger.Sync() }()

	obs.Init()
	obs.InitBuildInfo(version, commit)
	if cfg.SecretGenerated {
		logger.Warn("auth_secret_generated", zap.String("hint", "set EA_AUTH_SECRET so tokens survive restarts"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	tokens, err := auth.NewTokenService(cfg.Auth)
	if err != nil {
		return err
	}
	api := httpapi.New(cfg, st, tokens, version)

	created, err := api.Accounts().EnsureAdmin(ctx, cfg.Bootstrap)
	if err != nil {
		return err
	}
	if created {
		logger.Info("admin_bootstrapped", zap.String("email", cfg.Bootstrap.AdminEmail))
	}
	if cfg.Seed.File != "" {
		if err := seedIfEmpty(ctx, api.Records(), cfg.Seed.File, logger); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server_start",
			zap.String("addr", srv.Addr),
			zap.String("version", version),
			zap.String("database", st.Kind()),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("server_shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server_stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	if cfg.Database.Driver == config.DriverMemory {
		return memstore.New(), nil
	}
	st, err := pg.Open(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := st.Ping(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate.Up(ctx, st.DB()); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func seedIfEmpty(ctx context.Context, svc *records.Service, path string, logger *zap.Logger) error {
	empty, err := svc.Empty(ctx)
	if err != nil || !empty {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	counts, err := svc.Seed(ctx, nil, data)
	if err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}
	logger.Info("database_seeded", zap.String("file", path), zap.Any("counts", counts))
	return nil
}
