package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/labrun/internal/config"
	"github.com/aretw0/labrun/internal/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "labrun",
	Short: "labrun executes laboratory protocols against shared devices",
	Long: `labrun runs compiled protocol trees: sequences, timed processes and
state blocks that take ownership of devices while their children run.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a labrun.yaml config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides the config")
}

// setup loads the configuration and the logger shared by every command.
func setup(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	return cfg, logging.New(logging.ParseLevel(cfg.Log.Level)), nil
}
