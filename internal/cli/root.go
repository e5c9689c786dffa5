// Package cli holds the cobra commands of the recommender-service binary.
package cli

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"jobmate/recommender-service/internal/config"
	"jobmate/recommender-service/internal/logger"
)

const appName = "recommender-service"

var (
	// Used for flags.
	cfgFile  string
	debug    bool
	jsonLogs bool

	rootCmd = &cobra.Command{
		Use:          appName,
		Short:        "recommender-service ingests job postings from registered sources and ranks them against a resume",
		SilenceUsage: true,
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (yaml, json or toml); environment variables override it")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&jsonLogs, "json", "j", false, "json format for logging")
}

// setup loads configuration and builds the logger. Flags win over the
// DEBUG and LOG_JSON settings when given.
func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if cmd.Flags().Changed("debug") {
		cfg.Debug = debug
	}
	if cmd.Flags().Changed("json") {
		cfg.LogJSON = jsonLogs
	}

	log, err := logger.New(cfg.LogJSON, cfg.Debug)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
