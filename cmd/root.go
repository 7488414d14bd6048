package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/facelab/internal/config"
	"github.com/andresmejia3/facelab/internal/logging"
	"github.com/andresmejia3/facelab/internal/store"
	"github.com/spf13/cobra"
)

var (
	// cfg is read once per invocation in PersistentPreRunE.
	cfg *config.Config
	// DB is the dataset catalog, opened only by commands that use it.
	DB *store.Store
	// dbURL overrides FACELAB_DB_URL
	dbURL    string
	logLevel string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "facelab",
	Short:   "Face dataset loader with a crash-tolerant worker pool",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.NewFromEnv(config.WithDBURL(dbURL), config.WithLogLevel(logLevel))
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if cmd == workerCmd {
			// stderr of a worker is captured by the host, keep it plain.
			logging.InitWriter(cfg.LogLevel, os.Stderr)
			return nil
		}
		logging.Init(cfg.LogLevel)
		logging.Startup(cmd.Name(), map[string]any{
			"cpu_number":     cfg.CPUNumber,
			"worker_timeout": cfg.WorkerTimeout.String(),
			"max_respawns":   cfg.MaxRespawns,
		})
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
	},
}

// openCatalog connects to the catalog database on first use.
func openCatalog(ctx context.Context) (*store.Store, error) {
	if DB != nil {
		return DB, nil
	}
	var err error
	DB, err = store.New(ctx, cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return DB, nil
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL catalog connection string (default: $FACELAB_DB_URL or postgres://localhost:5432/facelab)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (default: $FACELAB_LOG_LEVEL or info)")
}
