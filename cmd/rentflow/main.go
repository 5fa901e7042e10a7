// RentFlow - Dubai rent-contracts data pipeline.
// Downloads the open-data snapshot, builds the medallion store and
// star schema, and publishes the run's artifacts.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rentflow/rentflow/pkg/config"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// CLI flags
var (
	configFile   string
	verbose      bool
	publishFlag  bool
	strictFlag   bool
	skipDownload bool
	groupColumn  string
	outputFlag   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rentflow",
	Short: "RentFlow - Dubai rent-contracts data pipeline",
	Long: `RentFlow ingests the Dubai Land Department rent-contracts snapshot
into a DuckDB medallion store (bronze/silver/gold), validates and cleans
it, builds a star schema, and publishes Parquet artifacts and summary
reports.`,
	Version:       fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "explicit config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	runCmd.Flags().BoolVar(&publishFlag, "publish", false, "publish artifacts to a GitHub release")
	runCmd.Flags().BoolVar(&strictFlag, "strict", false, "treat null contract dates as validation errors")
	runCmd.Flags().BoolVar(&skipDownload, "skip-download", false, "reuse an existing local snapshot")

	reportCmd.Flags().StringVar(&groupColumn, "group-by", "property_usage_en", "grouping column")
	reportCmd.Flags().StringVarP(&outputFlag, "output", "o", "", "write CSV to a file instead of stdout")

	rootCmd.AddCommand(runCmd, fetchCmd, validateCmd, reportCmd, watchCmd)
}

// loadConfig builds the effective configuration and logging for a command.
func loadConfig() (*config.Config, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	manager := config.NewManager()
	var err error
	if configFile != "" {
		err = manager.LoadFile(configFile)
	} else {
		err = manager.Load()
	}
	if err != nil {
		return nil, err
	}

	cfg := manager.Get()
	if publishFlag {
		cfg.Publish.Enabled = true
	}
	if strictFlag {
		cfg.Validation.Strict = true
	}
	return cfg, nil
}
