package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/crmpulse/crmpulse/internal/config"
	errwrap "github.com/crmpulse/crmpulse/internal/errors"
	"github.com/crmpulse/crmpulse/internal/metrics"
	"github.com/crmpulse/crmpulse/internal/observability"
	"github.com/crmpulse/crmpulse/internal/server"
	"github.com/crmpulse/crmpulse/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server exposing the aggregated dashboard.

Endpoints:
  GET  /api/v1/dashboard?from=&to=&entity_id=&mode=&wait=
  POST /api/v1/dashboard/refresh
  GET  /api/v1/sources

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-validate the config file (restart to apply source changes)

In-flight source calls are cancelled on shutdown and the store is closed
after the HTTP server has drained.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		observability.InitServerLogger(config.AppName, cfg.Logging.Level, cfg.Logging.Environment)
		logger := observability.ServerLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(config.AppName, cfg.Metrics.Port); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.Wrap(cmd.Context(), errwrap.CodeInternal, err, "metrics initialization failed")
			}
			metrics.SetServerStartTime(time.Now().Unix())
		}

		rt, err := openRuntimeWith(cmd.Context(), cfg, logger)
		if err != nil {
			return errwrap.WrapDatabaseError(cmd.Context(), err, "store initialization failed")
		}
		agg := rt.newAggregator(logger)

		logger.Info("Initializing server",
			zap.String("service", config.AppName),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Int("metrics_port", cfg.Metrics.Port),
			zap.Strings("sources", cfg.SourceNames()),
			zap.String("cache_backend", cfg.Cache.Backend))

		srv := server.New(cfg.Server, agg)

		handlers.InitHealthManager(versionInfo.Version)
		hm := handlers.GetHealthManager()
		hm.RegisterAdvisory("dashboard", srv.HealthChecker())
		if cfg.Metrics.Enabled {
			hm.RegisterAdvisory("telemetry", telemetryHealthChecker{})
		}
		if rt.store != nil {
			hm.RegisterChecker("store", handlers.CheckerFunc(func(ctx context.Context) error {
				return rt.store.DB.PingContext(ctx)
			}))
		}

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Register graceful shutdown handlers (LIFO order - last registered, first executed)
		// Handler 1: Flush logger (executed last)
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				// Sync errors are often benign (stdout/stderr already closed)
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		// Handler 2: Stop the metrics exporter
		signals.OnShutdown(func(ctx context.Context) error {
			if err := observability.StopMetrics(); err != nil {
				logger.Warn("Metrics exporter did not stop cleanly", zap.Error(err))
			}
			return nil
		})

		// Handler 3: Close the store once nothing writes to it
		signals.OnShutdown(func(ctx context.Context) error {
			if err := rt.Close(); err != nil {
				return errwrap.WrapDatabaseError(ctx, err, "store close failed")
			}
			return nil
		})

		// Handler 4: Stop fetching and publishing
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Stopping dashboard aggregator...")
			agg.Close()
			return nil
		})

		// Handler 5: Shutdown HTTP server (executed first)
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.Wrap(ctx, errwrap.CodeInternal, err, "server shutdown failed")
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: re-validating configuration")

			if err := appViper.ReadInConfig(); err != nil {
				if _, ok := err.(viper.ConfigFileNotFoundError); ok {
					logger.Info("No config file found - using defaults and environment variables")
					return nil
				}
				logger.Error("Failed to reload config file",
					zap.String("file", appViper.ConfigFileUsed()),
					zap.Error(err))
				return errwrap.WrapInvalidInput(ctx, err, "config reload failed")
			}
			if _, err := loadConfig(); err != nil {
				logger.Error("Reloaded configuration is invalid", zap.Error(err))
				return errwrap.WrapInvalidInput(ctx, err, "config reload failed")
			}

			logger.Info("Configuration is valid; restart to apply source changes",
				zap.String("file", appViper.ConfigFileUsed()))
			return nil
		})

		// Enable double-tap force quit (Ctrl+C within 2 seconds)
		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		// Start server in background goroutine
		errChan := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()

		// Start signal listener in background
		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		// Wait for error or shutdown completion
		if err := <-errChan; err != nil {
			agg.Close()
			_ = rt.Close()
			return errwrap.Wrap(cmd.Context(), errwrap.CodeInternal, err, "server error")
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")

	_ = appViper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = appViper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
