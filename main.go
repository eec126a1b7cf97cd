package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/smazurov/doorbell/cmd"
	"github.com/smazurov/doorbell/internal/api"
	"github.com/smazurov/doorbell/internal/config"
	"github.com/smazurov/doorbell/internal/logging"
	"github.com/smazurov/doorbell/internal/metrics/exporters"
	"github.com/smazurov/doorbell/internal/version"
)

func main() {
	var cli humacli.CLI

	cli = humacli.New(func(hooks humacli.Hooks, opts *config.Options) {
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(opts.LoggingConfig())
		logger := logging.GetLogger("main")

		app, err := cmd.NewApp(opts)
		if err != nil {
			logger.Error("Invalid configuration", "error", err)
			os.Exit(1)
		}

		apiOpts := &api.Options{
			AuthUsername: opts.AuthUsername,
			AuthPassword: opts.AuthPassword,
			Calls:        app.Calls,
			Devices:      app.Devices,
			Cloud:        app.Cloud,
			Resolver:     app.Resolver,
			Processes:    app.Supervisor,
			EventBus:     app.Bus,
		}
		if opts.MetricsEnabled {
			apiOpts.MetricsHandler = exporters.HTTPHandler()
		}
		server := api.NewServer(apiOpts)

		var sseExporter *exporters.SSEExporter
		if opts.MetricsEnabled {
			sseExporter = exporters.NewSSEExporter(app.Bus)
		}

		watcher := config.NewLoggingWatcher(opts.Config, logger)

		ctx, cancel := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			logger.Info("Starting doorbell", "version", version.Version)

			if loadErr := app.LoadDevices(ctx, logger); loadErr != nil {
				logger.Warn("No devices available yet, will retry in background", "error", loadErr)
			}
			go app.Devices.Run(ctx, app.Timings.PollInterval)

			// Probe early so the first call does not pay for it.
			go func() {
				if _, probeErr := app.Resolver.Resolve(ctx); probeErr != nil {
					logger.Warn("No working transcoder found, calls will fail until one is installed", "error", probeErr)
				}
			}()

			if sseExporter != nil {
				sseExporter.Start(ctx)
			}

			if startErr := watcher.Start(); startErr != nil {
				logger.Warn("Failed to start config watcher, hot-reload disabled", "error", startErr)
			}

			if _, notifyErr := daemon.SdNotify(false, daemon.SdNotifyReady); notifyErr != nil {
				logger.Debug("sd_notify failed", "error", notifyErr)
			}

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			// Hang up calls after the API stops accepting new ones
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			app.Shutdown(shutdownCtx)

			cancel()
			if sseExporter != nil {
				sseExporter.Stop()
			}
			_ = watcher.Stop()
		})
	})

	cli.Root().Use = "doorbell"
	cli.Root().Short = "Live calls and recording playback for cloud video doorbells"
	cli.Root().Version = version.Version

	cli.Root().AddCommand(cmd.CreateDevicesCmd())
	cli.Root().AddCommand(cmd.CreateActivitiesCmd())
	cli.Root().AddCommand(cmd.CreateCallCmd())
	cli.Root().AddCommand(cmd.CreateProbeCmd())

	cli.Run()
}
