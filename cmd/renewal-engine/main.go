package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/trainflow-renewal/internal/app"
	"github.com/noah-isme/trainflow-renewal/internal/service"
	"github.com/noah-isme/trainflow-renewal/pkg/cache"
	"github.com/noah-isme/trainflow-renewal/pkg/config"
	"github.com/noah-isme/trainflow-renewal/pkg/database"
	"github.com/noah-isme/trainflow-renewal/pkg/logger"
	"github.com/noah-isme/trainflow-renewal/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Sugar().Fatalw("renewal engine stopped", "error", err)
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	shutdownTracing, err := tracing.Init(ctx, cfg, logr)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logr.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	db, err := database.NewPostgres(ctx, cfg.Database, cfg.ServiceName)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Events.StreamEnabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
	}

	application, err := app.New(cfg, db, redisClient, logr)
	if err != nil {
		return err
	}
	application.Start(ctx)
	defer func() {
		if err := application.Close(); err != nil {
			logr.Warn("application close failed", zap.Error(err))
		}
	}()

	scheduler, err := startSweeper(ctx, cfg, logr, application.Sweeper)
	if err != nil {
		return err
	}
	if scheduler != nil {
		defer func() { <-scheduler.Stop().Done() }()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           application.Ops,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("ops server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// startSweeper schedules the enrollment sweep. Overlapping runs are skipped.
func startSweeper(ctx context.Context, cfg *config.Config, logr *zap.Logger, sweeper *service.ExpirySweeperService) (*cron.Cron, error) {
	if !cfg.Sweeper.Enabled {
		return nil, nil
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(cfg.Sweeper.Schedule, func() {
		if _, err := sweeper.Run(ctx); err != nil {
			logr.Warn("enrollment sweep incomplete", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule sweeper %q: %w", cfg.Sweeper.Schedule, err)
	}
	c.Start()
	logr.Info("enrollment sweeper scheduled", zap.String("schedule", cfg.Sweeper.Schedule))
	return c, nil
}
