// Command heatmap-loader loads the daily Swisscom dwell-density heatmap of a
// region and writes it to a sink, once (run) or on a schedule (serve).
package main

import (
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/Sternrassler/swisscom-heatmap-loader/internal/config"
	"github.com/Sternrassler/swisscom-heatmap-loader/pkg/logging"
	"github.com/spf13/cobra"
)

var (
	cfg        *config.Config
	configPath string
)

var rootCmd = &cobra.Command{
	Use:           "heatmap-loader",
	Short:         "Load Swisscom dwell-density heatmaps",
	Long:          "Authenticates against the Swisscom API, fetches the tile catalog of a region and yesterday's dwell densities, and writes the joined records to a sink.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.LoadFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		logging.Setup(cfg.LoggingConfig())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./config.yaml if present)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
