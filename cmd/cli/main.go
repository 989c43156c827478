package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"archimap/internal/logging"
	"archimap/pkg/utils"
)

const defaultBaseURL = "http://localhost:8080"

var (
	// Global flags
	configPath string
	dbSource   string
	baseURL    string
	tokenPath  string
	verbose    bool
	timeout    time.Duration

	cfg    utils.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "archimap",
	Short: "Query the architecture catalog and manage a running server",
	Long: `archimap reads the catalog database directly (local file, http(s) URL with
range requests, or s3:// URI) and talks to a running API server for admin tasks.

Examples:
  archimap search 安藤 --sort year_asc
  archimap building 3 --db https://example.com/db/archimap.sqlite
  archimap admin login --password ...
  archimap events listen`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = utils.LoadConfig(configPath); err != nil {
			return err
		}
		if dbSource != "" {
			cfg.Database.Source = dbSource
		}

		level := "warn"
		if verbose {
			level = "debug"
		}
		if logger, err = logging.New(level, "console"); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "archimap.yaml", "YAML config file (optional)")
	pf.StringVar(&dbSource, "db", "", "database path, http(s) URL or s3:// URI (overrides config)")
	pf.StringVar(&baseURL, "api", defaultBaseURL, "API base URL")
	pf.StringVar(&tokenPath, "token", defaultTokenPath(), "admin token file path")
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	pf.DurationVar(&timeout, "timeout", 30*time.Second, "command timeout")

	rootCmd.AddCommand(infoCmd, searchCmd, buildingCmd, statsCmd, hashPasswordCmd, adminCmd, eventsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
