// Package main is the entry point for the background worker.
//
// The worker runs the recurring grade sweep: for every graded launch
// activity and every enrolled learner it queries the LRS for score
// evidence and writes the result into the gradebook. Multiple workers
// coordinate through a Redis lock so only one sweep runs at a time.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tincanhub/tincan-launch/config"
	"github.com/tincanhub/tincan-launch/internal/application/query"
	"github.com/tincanhub/tincan-launch/internal/domain/activity"
	"github.com/tincanhub/tincan-launch/internal/infrastructure/external/lrs"
	"github.com/tincanhub/tincan-launch/internal/infrastructure/persistence/postgres"
	"github.com/tincanhub/tincan-launch/internal/infrastructure/persistence/redis"
	"github.com/tincanhub/tincan-launch/internal/infrastructure/scheduler"
	"github.com/tincanhub/tincan-launch/internal/infrastructure/scheduler/jobs"
	"github.com/tincanhub/tincan-launch/pkg/secrets"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting grade sweep worker",
		"env", cfg.App.Environment,
		"interval", cfg.Scheduler.CheckGradesInterval.String(),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. DATABASE (PostgreSQL)
	// ─────────────────────────────────────────────────────────────────────────
	dbConn, err := postgres.NewConnection(ctx, cfg.Database.URL,
		int32(cfg.Database.MaxOpenConns), int32(cfg.Database.MaxIdleConns))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbConn.Close()

	if err := dbConn.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (sweep coordination)
	// ─────────────────────────────────────────────────────────────────────────
	var checkpoints jobs.CheckpointStore
	redisClient, err := redis.NewClient(ctx, redisConfig(cfg))
	if err != nil {
		log.Warn("redis unavailable, sweep runs uncoordinated", "error", err)
	} else {
		defer redisClient.Close()
		checkpoints = redis.NewCheckpointStore(redisClient)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. SECRETS & REPOSITORIES
	// ─────────────────────────────────────────────────────────────────────────
	var box *secrets.Box
	if cfg.LRS.SecretsKey != "" {
		box, err = secrets.NewBox(cfg.LRS.SecretsKey)
		if err != nil {
			return fmt.Errorf("failed to initialize secrets: %w", err)
		}
	}

	activityRepo := postgres.NewActivityRepository(dbConn, box)
	userRepo := postgres.NewUserRepository(dbConn)
	gradebookRepo := postgres.NewGradebookRepository(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	limiterCfg := lrs.DefaultRateLimiterConfig()
	limiterCfg.RequestsPerSecond = float64(cfg.LRS.RateLimit) / 60.0
	limiterCfg.BurstSize = cfg.LRS.RateLimitBurst

	factory := lrs.NewFactory(lrs.FactoryConfig{
		Timeout:     cfg.LRS.RequestTimeout,
		RateLimiter: limiterCfg,
		Logger:      log,
		Debug:       cfg.App.Debug,
	})
	readers := func(s activity.LRSSettings) (query.StatementReader, error) { return factory.NewClient(s) }

	defaults := activity.LRSSettings{
		Endpoint:              cfg.LRS.Endpoint,
		Username:              cfg.LRS.Username,
		Password:              cfg.LRS.Password,
		Version:               cfg.LRS.Version,
		CustomAccountHomePage: cfg.LRS.CustomAccountHomePage,
		UseEmailIdentity:      cfg.LRS.UseEmailIdentity,
	}

	gradeQuery := query.NewComputeGradeHandler(
		activityRepo, userRepo, defaults, cfg.App.BaseURL, readers)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	sweep := jobs.NewCheckGradesJob(
		activityRepo, userRepo, gradebookRepo,
		gradeQuery, checkpoints, log,
		jobs.CheckGradesConfig{
			LockTTL: cfg.Scheduler.LockTTL,
			Timeout: cfg.Scheduler.JobTimeout,
		})

	sched := scheduler.New(scheduler.Config{Logger: log, JobTimeout: cfg.Scheduler.JobTimeout})
	if err := sched.Register(sweep, scheduler.Every(cfg.Scheduler.CheckGradesInterval)); err != nil {
		return fmt.Errorf("failed to register grade sweep: %w", err)
	}

	sched.Start(ctx)
	log.Info("worker is running")

	// ─────────────────────────────────────────────────────────────────────────
	// 8. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	sched.Stop()
	log.Info("shutdown completed")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.App.Debug || cfg.Observability.LogLevel == "debug" {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

func redisConfig(cfg *config.Config) redis.Config {
	return redis.Config{
		URL:          cfg.Redis.URL,
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	}
}
