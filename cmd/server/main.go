// Package main is the entry point for the launch service HTTP server.
//
// The server exposes the REST interface: launching activities into
// external xAPI content, completion and grade lookups against the LRS,
// attempt history and instance management. The background grade sweep
// lives in cmd/worker; small installations can enable it here too with
// SCHEDULER_ENABLED.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tincanhub/tincan-launch/config"
	"github.com/tincanhub/tincan-launch/internal/application/command"
	"github.com/tincanhub/tincan-launch/internal/application/query"
	"github.com/tincanhub/tincan-launch/internal/domain/activity"
	"github.com/tincanhub/tincan-launch/internal/infrastructure/external/lrs"
	"github.com/tincanhub/tincan-launch/internal/infrastructure/persistence/postgres"
	"github.com/tincanhub/tincan-launch/internal/infrastructure/persistence/redis"
	"github.com/tincanhub/tincan-launch/internal/infrastructure/scheduler"
	"github.com/tincanhub/tincan-launch/internal/infrastructure/scheduler/jobs"
	httpserver "github.com/tincanhub/tincan-launch/internal/interface/http"
	"github.com/tincanhub/tincan-launch/pkg/logger"
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
	log.Info("starting launch service",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"base_url", cfg.App.BaseURL,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. DATABASE (PostgreSQL)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	dbConn, err := postgres.NewConnection(ctx, cfg.Database.URL,
		int32(cfg.Database.MaxOpenConns), int32(cfg.Database.MaxIdleConns))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()

	log.Info("running database migrations...")
	if err := dbConn.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database ready")

	// ─────────────────────────────────────────────────────────────────────────
	// 4. SECRETS
	// ─────────────────────────────────────────────────────────────────────────
	var box *secrets.Box
	if cfg.LRS.SecretsKey != "" {
		box, err = secrets.NewBox(cfg.LRS.SecretsKey)
		if err != nil {
			return fmt.Errorf("failed to initialize secrets: %w", err)
		}
	} else {
		log.Warn("LRS_SECRETS_KEY not set, override credentials will be rejected")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. REPOSITORIES
	// ─────────────────────────────────────────────────────────────────────────
	activityRepo := postgres.NewActivityRepository(dbConn, box)
	userRepo := postgres.NewUserRepository(dbConn)
	gradebookRepo := postgres.NewGradebookRepository(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. LRS CLIENT FACTORY
	// ─────────────────────────────────────────────────────────────────────────
	factory := newLRSFactory(cfg, log)
	defaults := defaultLRSSettings(cfg)

	readers := func(s activity.LRSSettings) (query.StatementReader, error) { return factory.NewClient(s) }
	stateReaders := func(s activity.LRSSettings) (query.StateReader, error) { return factory.NewClient(s) }
	connectors := func(s activity.LRSSettings) (command.Connector, error) { return factory.NewClient(s) }

	// ─────────────────────────────────────────────────────────────────────────
	// 7. APPLICATION LAYER (Commands, Queries)
	// ─────────────────────────────────────────────────────────────────────────
	launchCmd := command.NewRecordLaunchHandler(
		activityRepo, userRepo, defaults, cfg.App.BaseURL, cfg.Launch.ProfileFields,
		connectors)
	manageCmd := command.NewManageActivityHandler(activityRepo, gradebookRepo)

	completionQuery := query.NewCheckCompletionHandler(
		activityRepo, userRepo, defaults, cfg.App.BaseURL, readers)
	gradeQuery := query.NewComputeGradeHandler(
		activityRepo, userRepo, defaults, cfg.App.BaseURL, readers)
	registrationsQuery := query.NewListRegistrationsHandler(
		activityRepo, userRepo, defaults, cfg.App.BaseURL, stateReaders)

	// ─────────────────────────────────────────────────────────────────────────
	// 8. OPTIONAL IN-PROCESS SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		var checkpoints jobs.CheckpointStore
		redisClient, err := redis.NewClient(ctx, redisConfig(cfg))
		if err != nil {
			log.Warn("redis unavailable, sweep runs uncoordinated", "error", err)
		} else {
			defer redisClient.Close()
			checkpoints = redis.NewCheckpointStore(redisClient)
		}

		sweep := jobs.NewCheckGradesJob(
			activityRepo, userRepo, gradebookRepo,
			gradeQuery, checkpoints, log,
			jobs.CheckGradesConfig{
				LockTTL: cfg.Scheduler.LockTTL,
				Timeout: cfg.Scheduler.JobTimeout,
			})

		sched = scheduler.New(scheduler.Config{Logger: log, JobTimeout: cfg.Scheduler.JobTimeout})
		if err := sched.Register(sweep, scheduler.Every(cfg.Scheduler.CheckGradesInterval)); err != nil {
			return fmt.Errorf("failed to register grade sweep: %w", err)
		}
		sched.Start(ctx)
		defer sched.Stop()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	httpConfig := httpserver.DefaultConfig()
	httpConfig.Host = cfg.HTTP.Host
	httpConfig.Port = cfg.HTTP.Port
	httpConfig.ReadTimeout = cfg.HTTP.ReadTimeout
	httpConfig.WriteTimeout = cfg.HTTP.WriteTimeout
	httpConfig.IdleTimeout = cfg.HTTP.IdleTimeout

	httpDeps := httpserver.Dependencies{
		RecordLaunchHandler:      launchCmd,
		ManageActivityHandler:    manageCmd,
		CheckCompletionHandler:   completionQuery,
		ComputeGradeHandler:      gradeQuery,
		ListRegistrationsHandler: registrationsQuery,
		Logger:                   logger.Default().WithLevel(logger.ParseLevel(cfg.Observability.LogLevel)),
		HealthChecker:            &healthChecker{db: dbConn, lrs: factory, defaults: defaults},
	}

	server := httpserver.NewServer(httpConfig, httpDeps)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 10. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("launch service is running", "http_address", server.Address())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		log.Error("service error", "error", err)
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", "error", err)
		return err
	}

	log.Info("shutdown completed")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LRS FACTORY
// ══════════════════════════════════════════════════════════════════════════════

func newLRSFactory(cfg *config.Config, log *slog.Logger) *lrs.Factory {
	limiterCfg := lrs.DefaultRateLimiterConfig()
	limiterCfg.RequestsPerSecond = float64(cfg.LRS.RateLimit) / 60.0
	limiterCfg.BurstSize = cfg.LRS.RateLimitBurst

	return lrs.NewFactory(lrs.FactoryConfig{
		Timeout:     cfg.LRS.RequestTimeout,
		RateLimiter: limiterCfg,
		Logger:      log,
		Debug:       cfg.App.Debug,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

type healthChecker struct {
	db       *postgres.Connection
	lrs      *lrs.Factory
	defaults activity.LRSSettings
}

func (h *healthChecker) Check(ctx context.Context) httpserver.HealthStatus {
	status := httpserver.HealthStatus{
		Healthy: true,
		Ready:   true,
		Checks:  make(map[string]string),
	}

	if err := h.db.Ping(ctx); err != nil {
		status.Healthy = false
		status.Ready = false
		status.Message = "database unreachable"
		status.Checks["database"] = err.Error()
	} else {
		status.Checks["database"] = "ok"
	}

	client, err := h.lrs.NewClient(h.defaults)
	if err == nil && client.IsHealthy(ctx) {
		status.Checks["lrs"] = "ok"
	} else {
		// Degraded, not dead: stored configuration is still servable.
		status.Checks["lrs"] = "unreachable"
		status.Message = "default LRS unreachable"
	}

	return status
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

func defaultLRSSettings(cfg *config.Config) activity.LRSSettings {
	return activity.LRSSettings{
		Endpoint:              cfg.LRS.Endpoint,
		Username:              cfg.LRS.Username,
		Password:              cfg.LRS.Password,
		Version:               cfg.LRS.Version,
		CustomAccountHomePage: cfg.LRS.CustomAccountHomePage,
		UseEmailIdentity:      cfg.LRS.UseEmailIdentity,
	}
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
