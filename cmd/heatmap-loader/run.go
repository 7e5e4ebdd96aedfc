package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/swisscom-heatmap-loader/pkg/heatmap"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runSink string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Load yesterday's heatmap once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if runSink != "" {
			cfg.Sink.Type = runSink
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		a, err := newApp(ctx, cfg, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Pipeline.Run(ctx)
		if err != nil {
			return fmt.Errorf("run failed: %w", err)
		}

		log.Info().
			Str("run_id", result.RunID).
			Str("target_date", result.TargetDate.Format(heatmap.DateLayout)).
			Int("tiles", result.TileCount).
			Int("records", len(result.Records)).
			Int("failed_chunks", len(result.Report.Failed)).
			Bool("degraded", result.Degraded()).
			Msg("Run finished")

		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runSink, "sink", "", "output sink: stdout, redis, postgres or none (default from config)")
	rootCmd.AddCommand(runCmd)
}
