package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jmehdipour/outreach-mailer/internal/config"
	"github.com/jmehdipour/outreach-mailer/internal/db"
	"github.com/jmehdipour/outreach-mailer/internal/kafka"
	"github.com/jmehdipour/outreach-mailer/internal/logger"
	"github.com/jmehdipour/outreach-mailer/internal/metrics"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var metricsAddr string

// NewWorkerCmd returns the parent "worker" command.
func NewWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run background workers",
	}
	cmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics on this address (disabled when empty)")

	// attach subcommands
	cmd.AddCommand(senderCmd)
	cmd.AddCommand(webhooksCmd)

	return cmd
}

func setup(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
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
	metrics.MustRegister(prometheus.DefaultRegisterer)
	return cfg, log, nil
}

func openMySQL(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dbx, err := db.NewMySQLConnection(cfg.DSN, db.PoolOpts{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		PingTimeout:     cfg.PingTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("mysql connect: %w", err)
	}
	return dbx, nil
}

func consumerConfig(cfg config.KafkaConfig, topic, lane string) kafka.Config {
	groupID := cfg.GroupID
	if groupID == "" {
		groupID = "outreach-mailer"
	}
	return kafka.Config{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        groupID + "-" + lane,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		CommitInterval: time.Duration(cfg.CommitInterval) * time.Millisecond,
	}
}

// runLane runs lane until ctx ends, next to an optional metrics listener.
func runLane(ctx context.Context, log *zap.Logger, lane func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return lane(gctx)
	})

	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info("metrics listening", zap.String("addr", metricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}
