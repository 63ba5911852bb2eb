package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/outreach-mailer/internal/clock"
	"github.com/jmehdipour/outreach-mailer/internal/config"
	"github.com/jmehdipour/outreach-mailer/internal/db"
	"github.com/jmehdipour/outreach-mailer/internal/kafka"
	"github.com/jmehdipour/outreach-mailer/internal/model"
	"github.com/jmehdipour/outreach-mailer/internal/queue"
	"github.com/jmehdipour/outreach-mailer/internal/repository"
	"github.com/jmehdipour/outreach-mailer/internal/worker"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var senderCmd = &cobra.Command{
	Use:   "sender",
	Short: "Run the send lane (one job at a time, gated by the send window)",
	RunE:  runSender,
}

func runSender(cmd *cobra.Command, _ []string) error {
	// 1) load config
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	// 2) DB connection (MySQL)
	dbx, err := openMySQL(cfg.MySQL)
	if err != nil {
		return err
	}
	defer dbx.Close()

	// 3) send window
	var rdb *redis.Client
	if cfg.RateLimit.Backend == config.RateLimitRedis {
		rdb, err = db.NewRedisClient(db.RedisOpts{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = rdb.Close() }()
	}
	var scripter redis.Scripter
	if rdb != nil {
		scripter = rdb
	}
	limiter, err := buildLimiter(cfg.RateLimit, scripter, clock.System{})
	if err != nil {
		return err
	}

	// 4) providers -> dispatcher
	disp, err := buildDispatcher(cfg, log)
	if err != nil {
		return err
	}

	// 5) kafka queue; nacked jobs go back onto the same topic
	consumer := kafka.NewConsumerFromConfig(consumerConfig(cfg.Kafka, cfg.Kafka.SendTopic, "sender"))
	defer consumer.Close()
	producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.SendTopic)
	defer func() { _ = producer.Close() }()
	jobs := queue.NewKafka[model.SendJob](consumer, producer, cfg.Dispatcher.MaxJobAttempts, log)

	s := worker.NewSender(
		jobs,
		limiter,
		disp,
		repository.NewSendRecordsRepository(dbx),
		repository.NewLeadsRepository(dbx),
		log.Named("sender"),
	)
	s.PollInterval = pollInterval(cfg.Dispatcher)

	// 6) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("sender starting",
		zap.String("topic", cfg.Kafka.SendTopic),
		zap.Int("capacity_per_minute", cfg.RateLimit.Capacity),
		zap.String("rate_limit_backend", cfg.RateLimit.Backend),
	)
	return runLane(ctx, log, s.Run)
}
