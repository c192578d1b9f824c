package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRunCmd() *cobra.Command {
	var useMCP bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Watch the foreground app and skip ads until interrupted",
		Long: `Starts the scan scheduler. Every tick reads the UI tree of the foreground app,
matches it against the keyword table and, on a match, runs the app's macro or
taps/scrolls past the ad.

With --mcp the engine is also controllable over MCP on stdio; the daemon then
exits when the MCP client disconnects.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			s.logger.Info().
				Str("version", Version).
				Str("serial", s.cfg.Device.Serial).
				Str("data_dir", s.cfg.Storage.DataDir).
				Msg("Starting adsweep")

			return s.app.Run(ctx, RunOptions{
				MCP:         useMCP,
				MetricsAddr: s.cfg.Metrics.Addr,
			})
		},
	}

	cmd.Flags().BoolVar(&useMCP, "mcp", false, "serve MCP on stdio")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9464)")
	viper.BindPFlag("metrics.addr", cmd.Flags().Lookup("metrics-addr"))
	return cmd
}

func newScanCmd() *cobra.Command {
	var (
		appID   string
		records bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan the current screen once and print the detection result as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			rep, err := s.app.ScanOnce(cmd.Context(), appID, records)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		},
	}

	cmd.Flags().StringVar(&appID, "app", "", "app to evaluate (default: foreground app)")
	cmd.Flags().BoolVar(&records, "records", false, "include every scanned node in the output")
	return cmd
}
