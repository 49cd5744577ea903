package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/dropload/internal/config"
	"github.com/JonMunkholm/dropload/internal/logging"
)

var (
	envFile  string
	logLevel string
)

// rootCmd is the entry point. Subcommands register themselves in init.
var rootCmd = &cobra.Command{
	Use:   "dropload",
	Short: "Load CSV files dropped into a folder into PostgreSQL",
	Long: `dropload watches a drop folder, detects the dialect of every CSV file that
settles there, and loads it into PostgreSQL through a stage table, creating
or widening the target table as needed.

Settings come from the environment (and an optional .env file); see
internal/config for the full list.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadEnv()
	},
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")
}

// loadEnv reads the dotenv file. Overload lets the file win over variables
// already set in the shell.
func loadEnv() {
	if err := godotenv.Overload(envFile); err != nil {
		slog.Debug("no .env file loaded, using environment variables", "file", envFile)
		return
	}
	slog.Debug("loaded .env file (overwriting existing env vars)", "file", envFile)
}

// loadConfig loads and validates the configuration and installs the default
// logger writing to w. quietLevel applies when neither --log-level nor
// LOG_LEVEL is set.
func loadConfig(w io.Writer, quietLevel string) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	switch {
	case logLevel != "":
		level = logLevel
	case quietLevel != "" && os.Getenv("LOG_LEVEL") == "":
		level = quietLevel
	}
	slog.SetDefault(logging.New(w, level, cfg.Logging.Format))
	return cfg, nil
}
