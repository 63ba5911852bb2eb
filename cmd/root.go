package cmd

import (
	"fmt"
	"os"

	"github.com/jmehdipour/outreach-mailer/cmd/worker"
	"github.com/jmehdipour/outreach-mailer/internal/config"
	"github.com/jmehdipour/outreach-mailer/internal/db"
	"github.com/jmehdipour/outreach-mailer/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgPath string
	rootCmd = &cobra.Command{
		Use:           "outreach-mailer",
		Short:         "Rate-limited outreach email dispatch",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file (defaults are embedded)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(worker.NewWorkerCmd())
}

// setup loads and validates config and builds the process logger.
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, fmt.Errorf("invalid config: %w", err)
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, log, nil
}

func poolOpts(c config.DatabaseConfig) db.PoolOpts {
	return db.PoolOpts{
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
		PingTimeout:     c.PingTimeout,
	}
}
