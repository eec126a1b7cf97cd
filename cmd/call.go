package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/smazurov/doorbell/internal/logging"
)

// CreateCallCmd creates the call command.
func CreateCallCmd() *cobra.Command {
	var configFile string
	var activityID string
	var sinkType string
	var sinkTarget string
	var logJSON bool

	cmd := &cobra.Command{
		Use:   "call [device-id]",
		Short: "Start a live call and record it",
		Long: `Negotiates a live call with the doorbell and hands the media to a transcoder ` +
			`writing to the configured sink. Runs until interrupted or the transcoder exits. ` +
			`With --activity the recorded activity is played back instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deviceID := args[0]

			opts, err := loadSubcommandOptions(cmd, configFile, logJSON)
			if err != nil {
				return err
			}
			if sinkType != "" {
				opts.SinkType = sinkType
			}
			if sinkTarget != "" {
				opts.SinkTarget = sinkTarget
			}
			logger := logging.GetLogger("main").With("device_id", deviceID)

			app, err := NewApp(opts)
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := shutdownContext()
				defer cancel()
				app.Shutdown(sctx)
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := app.LoadDevices(ctx, logger); err != nil {
				return err
			}

			session, err := app.Calls.StartCameraStream(ctx, deviceID, activityID)
			if err != nil {
				return err
			}
			logger.Info("Streaming, press Ctrl-C to hang up", "sink", opts.SinkTarget)

			select {
			case <-ctx.Done():
				logger.Info("Hanging up")
				return app.Calls.StopCameraStream(context.WithoutCancel(ctx), deviceID)
			case <-session.Done():
				return session.Err()
			}
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "config.toml", "Path to configuration file")
	cmd.Flags().StringVar(&activityID, "activity", "", "Play back this recorded activity instead of a live call")
	cmd.Flags().StringVar(&sinkType, "sink", "", "Output sink (file, udp, rtsp); overrides the config")
	cmd.Flags().StringVarP(&sinkTarget, "output", "o", "", "Output path or URL; overrides the config")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Use JSON log format")

	return cmd
}
