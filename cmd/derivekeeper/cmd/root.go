package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solatis/derivekeeper/internal/core/config"
	"github.com/solatis/derivekeeper/internal/core/db"
	"github.com/solatis/derivekeeper/internal/core/logging"
	"github.com/solatis/derivekeeper/internal/core/runs"
)

// Version is the CLI release.
const Version = "0.1.0"

var (
	configFile string
	envFile    string
	dbURL      string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "derivekeeper",
	Short: "DeriveKeeper derived-field aggregation engine",
	Long: `DeriveKeeper evaluates declarative derivation rules over document collections,
combines documents with pluggable strategies, and guards every aggregation
with a resource-governing circuit breaker.`,
	SilenceUsage: true,
	Version:      Version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with DK_ variables, loaded when present")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "run ledger URL (sqlite://path or postgres://...)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json, text)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// session is the configuration and logger shared by every subcommand.
type session struct {
	cfg    *config.Config
	logger *zap.Logger
}

// loadSession loads config and applies persistent flags, which take
// precedence over environment and file values when set.
func loadSession(cmd *cobra.Command) (*session, error) {
	if err := loadEnvFile(envFile, cmd.Flags().Changed("env-file")); err != nil {
		return nil, err
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("db-url") {
		cfg.DB.URL = dbURL
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = logFormat
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, logger: logger}, nil
}

// loadEnvFile exports variables from path without overriding the real
// environment. A missing file is only an error when it was asked for explicitly.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("failed to read env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// openLedger opens the run ledger database. Callers close the returned DB.
func (s *session) openLedger() (*sqlx.DB, *runs.Store, error) {
	if s.cfg.DB.URL == "" {
		return nil, nil, fmt.Errorf("--db-url or DK_DB_URL required")
	}
	database, err := db.Open(s.cfg.DB.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	queries, err := db.LoadQueries(database)
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to load queries: %w", err)
	}
	return database, runs.NewStore(queries), nil
}

// optionalLedger opens the ledger when a database is configured, returning
// a nil recorder otherwise.
func (s *session) optionalLedger() (runs.Recorder, func(), error) {
	if s.cfg.DB.URL == "" {
		return nil, func() {}, nil
	}
	database, store, err := s.openLedger()
	if err != nil {
		return nil, nil, err
	}
	return store, func() { database.Close() }, nil
}
