package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/outreach-mailer/internal/db"
	httpSrv "github.com/jmehdipour/outreach-mailer/internal/http"
	"github.com/jmehdipour/outreach-mailer/internal/kafka"
	"github.com/jmehdipour/outreach-mailer/internal/model"
	"github.com/jmehdipour/outreach-mailer/internal/queue"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server (tracking, webhooks, job enqueue, reports)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		mysqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, poolOpts(cfg.MySQL))
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer mysqlDB.Close()

		redisClient, err := db.NewRedisClient(db.RedisOpts{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = redisClient.Close() }()

		chDB, err := db.NewClickHouseConnection(cfg.ClickHouse.DSN, poolOpts(cfg.ClickHouse))
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer func() { _ = chDB.Close() }()

		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.WebhookTopic)
		defer func() { _ = producer.Close() }()
		webhooks := queue.NewKafkaPublisher[model.WebhookEvent](producer, log)

		server := httpSrv.NewServer(cfg, mysqlDB, chDB, redisClient, webhooks, log)

		errCh := make(chan error, 1)
		go func() { errCh <- server.Start(cfg.HTTP.Addr) }()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		select {
		case <-ctx.Done():
			log.Info("signal received, shutting down")
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server exited", zap.Error(err))
				return err
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	},
}
