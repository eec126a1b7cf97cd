package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/doorbell/internal/call"
	"github.com/smazurov/doorbell/internal/cloud"
	"github.com/smazurov/doorbell/internal/config"
	"github.com/smazurov/doorbell/internal/devices"
	"github.com/smazurov/doorbell/internal/devices/store"
	"github.com/smazurov/doorbell/internal/events"
	"github.com/smazurov/doorbell/internal/logging"
	"github.com/smazurov/doorbell/internal/punch"
	"github.com/smazurov/doorbell/internal/sink"
	"github.com/smazurov/doorbell/internal/transcoder"
)

// App is the wired set of components shared by the server and the CLI
// subcommands.
type App struct {
	Options    *config.Options
	Timings    config.CallTimings
	Bus        *events.Bus
	Cloud      *cloud.Client
	Devices    *devices.Registry
	Resolver   *transcoder.Resolver
	Supervisor *transcoder.Supervisor
	Calls      *call.Controller
}

// NewApp builds every component from opts. Nothing is started and the
// cloud is not contacted.
func NewApp(opts *config.Options) (*App, error) {
	timings := opts.Timings()
	bus := events.New()

	out, err := sink.New(opts.SinkType, opts.SinkTarget)
	if err != nil {
		return nil, fmt.Errorf("invalid sink: %w", err)
	}

	client := cloud.NewClient(cloud.Options{
		BaseURL:   opts.CloudBaseURL,
		Username:  opts.CloudUsername,
		Password:  opts.CloudPassword,
		Timeout:   timings.RequestTimeout,
		RateLimit: float64(opts.CloudRateLimit),
	})

	registry := devices.NewRegistry(client, store.NewTOML(opts.DevicesCacheFile), bus)

	resolver := transcoder.NewResolver(
		transcoder.WithProber(transcoder.ExecProber{Timeout: timings.ProbeTimeout}),
		transcoder.WithEventBus(bus),
	)
	supervisor := transcoder.NewSupervisor(
		transcoder.WithStopTimeout(timings.StopTimeout),
		transcoder.WithSupervisorEventBus(bus),
	)

	controller := call.NewController(call.Deps{
		Cloud:      client,
		Devices:    registry,
		Puncher:    punch.New(punch.WithTimeout(timings.PunchTimeout)),
		Resolver:   resolver,
		Supervisor: supervisor,
		Bus:        bus,
	}, call.Config{
		Retries:          opts.CallRetries,
		RetryDelay:       timings.RetryDelay,
		NegotiateTimeout: timings.NegotiateTimeout,
		Output: transcoder.OutputOptions{
			Width:    opts.TranscoderWidth,
			Height:   opts.TranscoderHeight,
			FPS:      opts.TranscoderFPS,
			Bitrate:  opts.TranscoderBitrate,
			Progress: opts.MetricsEnabled,
		},
		Sink: out,
	})
	supervisor.SetExitHandler(controller.HandleExit)

	return &App{
		Options:    opts,
		Timings:    timings,
		Bus:        bus,
		Cloud:      client,
		Devices:    registry,
		Resolver:   resolver,
		Supervisor: supervisor,
		Calls:      controller,
	}, nil
}

// LoadDevices seeds the registry from its cache and then refreshes it from
// the cloud. A refresh failure with a usable cache is only logged.
func (a *App) LoadDevices(ctx context.Context, logger *slog.Logger) error {
	if err := a.Devices.Load(); err != nil {
		logger.Warn("Failed to load cached devices", "path", a.Options.DevicesCacheFile, "error", err)
	}
	list, err := a.Devices.Refresh(ctx)
	if err != nil {
		return err
	}
	logger.Debug("Devices loaded", "count", len(list))
	return nil
}

// Shutdown stops every call and transcoder and logs out.
func (a *App) Shutdown(ctx context.Context) {
	a.Calls.StopAll(ctx)
	if err := a.Supervisor.StopAll(ctx); err != nil {
		logging.GetLogger("main").Warn("Transcoders did not exit in time", "error", err)
	}
	if err := a.Cloud.Logout(ctx); err != nil {
		logging.GetLogger("main").Debug("Logout failed", "error", err)
	}
}

// loadSubcommandOptions builds options for a subcommand: defaults, then the
// config file, then DOORBELL_ environment overrides.
func loadSubcommandOptions(cmd *cobra.Command, configFile string, logJSON bool) (*config.Options, error) {
	opts := &config.Options{Config: configFile}
	config.ApplyDefaults(opts)
	if err := config.LoadConfig(opts, cmd); err != nil {
		return nil, err
	}
	if logJSON {
		opts.LoggingFormat = "json"
	}
	logging.Initialize(opts.LoggingConfig())
	return opts, nil
}

// shutdownContext bounds cleanup after a subcommand finishes.
func shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}
