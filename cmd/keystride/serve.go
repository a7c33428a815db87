// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystride Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/keystride/keystride/internal/auth"
	authpg "github.com/keystride/keystride/internal/auth/postgres"
	"github.com/keystride/keystride/internal/config"
	"github.com/keystride/keystride/internal/logging"
	"github.com/keystride/keystride/internal/observability"
	"github.com/keystride/keystride/internal/progress"
	progresspg "github.com/keystride/keystride/internal/progress/postgres"
	"github.com/keystride/keystride/internal/store"
	"github.com/keystride/keystride/internal/web"
	"github.com/keystride/keystride/pkg/errutil"
)

const (
	serviceName     = "keystride"
	shutdownTimeout = 5 * time.Second
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long: `Start the Keystride JSON API. The schema is bootstrapped on startup
unless auto-migrate is disabled, and metrics and health probes are served
on a separate address.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, nil)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

// runServeWithDeps runs the server until a signal, a server failure or ctx
// cancellation. A nil deps uses the default implementations.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, deps *ServeDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	deps = deps.withDefaults()

	cfg, err := deps.ConfigLoader(configFile, cmd.Flags())
	if err != nil {
		return oops.With("operation", "load configuration").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return oops.With("operation", "validate configuration").Wrap(err)
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := logging.SetDefault(logging.Options{
		Service: serviceName,
		Version: version,
		Format:  cfg.Log.Format,
		Level:   level,
		Writer:  cmd.ErrOrStderr(),
	})

	logger.Info("starting keystride",
		"http_addr", cfg.HTTP.Addr,
		"metrics_addr", cfg.Metrics.Addr,
		"auto_migrate", cfg.Database.AutoMigrate,
		"cache_enabled", cfg.Cache.RedisAddr != "",
	)

	if cfg.Database.AutoMigrate {
		if err := runAutoMigration(cfg.Database.URL, deps.MigratorFactory); err != nil {
			return err
		}
	} else {
		checkSchema(ctx, logger, cfg.Database.URL, deps.MigratorFactory)
	}

	pool, err := deps.PoolFactory(ctx, cfg.Database.URL, store.PoolOptions{MaxConns: cfg.Database.MaxConns})
	if err != nil {
		return oops.With("operation", "connect to database").Wrap(err)
	}
	defer pool.Close()
	logger.Info("connected to database")

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, auth.WithTokenTTL(cfg.Auth.TokenTTL))
	if err != nil {
		return err
	}
	authSvc, err := auth.NewService(
		authpg.NewUserRepository(pool),
		auth.NewBcryptHasher(cfg.Auth.BcryptCost),
		tokens,
		logger,
	)
	if err != nil {
		return err
	}

	progressOpts := []progress.Option{progress.WithLogger(logger)}
	var progressCache ProgressCache
	if cfg.Cache.RedisAddr != "" {
		progressCache, err = deps.CacheFactory(ctx, cfg.Cache.RedisAddr, cfg.Cache.TTL)
		if err != nil {
			return oops.With("operation", "connect to cache", "addr", cfg.Cache.RedisAddr).Wrap(err)
		}
		defer func() {
			if closeErr := progressCache.Close(); closeErr != nil {
				slog.Debug("error closing cache client", "error", closeErr)
			}
		}()
		progressOpts = append(progressOpts, progress.WithCache(progressCache))
		logger.Info("progress cache enabled", "addr", cfg.Cache.RedisAddr, "ttl", cfg.Cache.TTL)
	}
	progressSvc, err := progress.NewService(progresspg.NewProgressRepository(pool), progressOpts...)
	if err != nil {
		return err
	}

	observability.InstallPropagators()
	registry := observability.NewRegistry()
	metrics := observability.NewMetrics(registry)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	apiServer := deps.HTTPServerFactory(cfg.HTTP.Addr, web.NewRouter(web.Params{
		Auth:     authSvc,
		Progress: progressSvc,
		Guard:    auth.NewGuard(tokens),
		Metrics:  metrics,
		Logger:   logger,
	}))
	apiErrCh, err := apiServer.Start()
	if err != nil {
		return oops.With("operation", "start http server").Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, apiErrCh, "http")

	var obsServer Server
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, registry, readiness(pool, progressCache))
		obsErrCh, err := obsServer.Start()
		if err != nil {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stopCancel()
			if stopErr := apiServer.Stop(stopCtx); stopErr != nil {
				slog.Warn("failed to stop http server during cleanup", "error", stopErr)
			}
			return oops.With("operation", "start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Keystride API listening on " + apiServer.Addr())
	logger.Info("keystride ready", "http_addr", apiServer.Addr())

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		errutil.LogWarn(shutdownCtx, logger, "error stopping http server", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			errutil.LogWarn(shutdownCtx, logger, "error stopping observability server", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// runAutoMigration brings the schema up to date and always closes the migrator.
func runAutoMigration(databaseURL string, factory func(string) (AutoMigrator, error)) (err error) {
	migrator, err := factory(databaseURL)
	if err != nil {
		return oops.With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			if err == nil {
				err = oops.With("operation", "close migrator").Wrap(closeErr)
				return
			}
			slog.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.With("operation", "apply schema").Wrap(err)
	}

	schemaVersion, dirty, err := migrator.Version()
	if err != nil {
		return oops.With("operation", "read schema version").Wrap(err)
	}
	if dirty {
		return oops.Code("MIGRATION_DIRTY").With("version", schemaVersion).
			Errorf("schema version %d is dirty after migrating", schemaVersion)
	}
	slog.Info("database schema up to date", "version", schemaVersion)
	return nil
}

// checkSchema warns when auto-migrate is off and the database lags the
// embedded schema. Failures are logged only; the pool connect reports an
// unreachable database.
func checkSchema(ctx context.Context, logger *slog.Logger, databaseURL string, factory func(string) (AutoMigrator, error)) {
	migrator, err := factory(databaseURL)
	if err != nil {
		errutil.LogWarn(ctx, logger, "schema check skipped", err)
		return
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Debug("error closing migrator", "error", closeErr)
		}
	}()

	pending, err := migrator.Pending()
	if err != nil {
		errutil.LogWarn(ctx, logger, "schema check failed", err)
		return
	}
	if len(pending) > 0 {
		logger.WarnContext(ctx, "database schema has pending migrations; auto-migrate is disabled",
			"pending", pending)
		return
	}
	logger.InfoContext(ctx, "database schema is current")
}

// readiness reports ready when the database, and the cache if configured, answer.
func readiness(pool Pool, c ProgressCache) observability.ReadinessChecker {
	return func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return oops.Code("DB_UNAVAILABLE").Wrap(err)
		}
		if c != nil {
			if err := c.Ping(ctx); err != nil {
				return fmt.Errorf("progress cache: %w", err)
			}
		}
		return nil
	}
}

// monitorServerErrors cancels ctx when a server reports a serve error.
// It returns when the channel closes or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
