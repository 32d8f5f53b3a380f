package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cutting-room-floor/backbone-couch/internal/backbone"
	"github.com/cutting-room-floor/backbone-couch/internal/config"
	"github.com/cutting-room-floor/backbone-couch/internal/couch"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	configPath string
	debug      bool
	logLevel   string
	database   string
)

// app is what every subcommand runs against, built once the flags are parsed.
type app struct {
	cfg     *config.Config
	client  *couch.Client
	adapter *backbone.Adapter
}

var current app

var rootCmd = &cobra.Command{
	Use:     "couchsync",
	Short:   "Sync models with a CouchDB database",
	Version: version,
	Long: `couchsync reads and writes documents the way a model framework's sync
hook does: revision checked updates, HEAD-then-DELETE removal and
collection reads through design document rewrites.

Configuration comes from --config (JSON or YAML) and COUCH_* environment
variables; flags override both.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		setupLogging(cfg)

		client, err := cfg.NewClient()
		if err != nil {
			return fmt.Errorf("failed to create store client: %w", err)
		}
		opts, err := cfg.AdapterOptions()
		if err != nil {
			return err
		}

		current = app{cfg: cfg, client: client, adapter: backbone.New(client, opts...)}

		log.Debug().
			Str("version", version).
			Str("url", client.URL()).
			Str("updatePolicy", cfg.Sync.UpdatePolicy).
			Msg("couchsync configured")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (JSON or YAML)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&database, "db", "", "Database name (overrides config)")

	rootCmd.AddCommand(installCmd, getCmd, saveCmd, destroyCmd, listCmd, watchCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode distinguishes missing documents and conflicts for scripts.
func exitCode(err error) int {
	switch couch.KindOf(err) {
	case couch.KindNotFound:
		return 2
	case couch.KindConflict:
		return 3
	default:
		return 1
	}
}

// loadConfig loads the configuration from file and environment
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadFromEnvironment()
	}
	if err != nil {
		return nil, err
	}

	// Apply CLI flag overrides BEFORE validation
	if database != "" {
		cfg.Couch.Database = database
	}
	if debug {
		cfg.Debug = true
		if logLevel == "info" {
			cfg.LogLevel = "debug"
		}
	}
	if logLevel != "info" {
		cfg.LogLevel = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// setupLogging configures the global logger
func setupLogging(cfg *config.Config) {
	zerolog.SetGlobalLevel(parseLogLevel(cfg.LogLevel))

	if cfg.Debug {
		// Pretty logging for development
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}).With().Caller().Logger()
		return
	}

	log.Logger = zerolog.New(os.Stderr).
		With().
		Timestamp().
		Logger()
}

// parseLogLevel converts a string log level to zerolog.Level
func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
