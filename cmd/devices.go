package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/smazurov/doorbell/internal/logging"
)

// CreateDevicesCmd creates the devices command.
func CreateDevicesCmd() *cobra.Command {
	var configFile string
	var logJSON bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List doorbells on the cloud account",
		Long: `Logs in to the cloud, fetches the device list and updates the local device cache. ` +
			`When the cloud is unreachable the cached list is printed instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := loadSubcommandOptions(cmd, configFile, logJSON)
			if err != nil {
				return err
			}
			logger := logging.GetLogger("main")

			app, err := NewApp(opts)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := shutdownContext()
				defer cancel()
				app.Shutdown(ctx)
			}()

			if err := app.LoadDevices(cmd.Context(), logger); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTYPE\tSTATUS")
			for _, d := range app.Devices.List() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ID, d.Name, d.Type, d.Status)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "config.toml", "Path to configuration file")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Use JSON log format")

	return cmd
}

// CreateActivitiesCmd creates the activities command.
func CreateActivitiesCmd() *cobra.Command {
	var configFile string
	var logJSON bool

	cmd := &cobra.Command{
		Use:   "activities [device-id]",
		Short: "List a doorbell's recorded activities",
		Long:  `Prints the device's event history. Activity ids can be passed to "call --activity" for playback.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadSubcommandOptions(cmd, configFile, logJSON)
			if err != nil {
				return err
			}

			app, err := NewApp(opts)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := shutdownContext()
				defer cancel()
				app.Shutdown(ctx)
			}()

			acts, err := app.Cloud.Activities(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tEVENT\tVIDEO\tCREATED")
			for _, a := range acts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID, a.Event, a.VideoState, a.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "config.toml", "Path to configuration file")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Use JSON log format")

	return cmd
}

// CreateProbeCmd creates the probe command.
func CreateProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Find a working transcoder",
		Long:  `Tries each transcoder candidate in order and prints the first one that runs.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configFile, _ := cmd.Flags().GetString("config")
			opts, err := loadSubcommandOptions(cmd, configFile, false)
			if err != nil {
				return err
			}

			app, err := NewApp(opts)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*app.Timings.ProbeTimeout)
			defer cancel()

			found, err := app.Resolver.Resolve(ctx)
			if err != nil {
				fmt.Fprintln(os.Stderr, "no working transcoder found; install ffmpeg or avconv")
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), found.String())
			return nil
		},
	}

	cmd.Flags().String("config", "config.toml", "Path to configuration file")

	return cmd
}
