// Package cmd implements the CLI commands for vertd.
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/vertd/internal/config"
	"github.com/jmylchreest/vertd/internal/observability"
	"github.com/jmylchreest/vertd/internal/version"
)

var (
	// cfgFile holds the config file path from CLI flag.
	cfgFile string
	// cfg is loaded before any subcommand runs.
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "vertd",
	Short:   "Media conversion and compression service",
	Version: version.Short(),
	Long: `vertd converts and compresses uploaded video files with ffmpeg.

Clients upload a file over HTTP, choose a target format or size over a
websocket, follow the encoder's progress and download the result once.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if err := loadDotEnv(); err != nil {
			return err
		}
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		return initLogging(cmd)
	}

	// These flags are not bound to viper. They only override the config when
	// explicitly set, keeping CLI flag > env var > config > default.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., ./configs, /etc/vertd, $HOME/.vertd)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
}

// loadDotEnv reads .env from the working directory when present.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

// initLogging configures the default slog logger from the loaded config and
// any explicitly set flags.
func initLogging(cmd *cobra.Command) error {
	logCfg := cfg.Logging

	flags := cmd.Root().PersistentFlags()
	if flags.Changed("log-level") {
		logCfg.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		logCfg.Format, _ = flags.GetString("log-format")
	}
	logCfg.Level = strings.ToLower(logCfg.Level)
	logCfg.Format = strings.ToLower(logCfg.Format)

	switch logCfg.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", logCfg.Format)
	}

	logger := observability.NewLoggerWithWriter(logCfg, os.Stderr).
		With(slog.String("app", version.ApplicationName))
	slog.SetDefault(logger)
	return nil
}
