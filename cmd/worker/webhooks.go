package worker

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/outreach-mailer/internal/kafka"
	"github.com/jmehdipour/outreach-mailer/internal/model"
	"github.com/jmehdipour/outreach-mailer/internal/queue"
	"github.com/jmehdipour/outreach-mailer/internal/repository"
	"github.com/jmehdipour/outreach-mailer/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var webhooksCmd = &cobra.Command{
	Use:   "webhooks",
	Short: "Run the webhook lane (applies provider lifecycle callbacks)",
	RunE:  runWebhooks,
}

func runWebhooks(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	dbx, err := openMySQL(cfg.MySQL)
	if err != nil {
		return err
	}
	defer dbx.Close()

	consumer := kafka.NewConsumerFromConfig(consumerConfig(cfg.Kafka, cfg.Kafka.WebhookTopic, "webhooks"))
	defer consumer.Close()
	producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.WebhookTopic)
	defer func() { _ = producer.Close() }()
	events := queue.NewKafka[model.WebhookEvent](consumer, producer, cfg.Dispatcher.MaxJobAttempts, log)

	a := worker.NewApplier(
		events,
		repository.NewSendRecordsRepository(dbx),
		cfg.Dispatcher.WebhookConcurrency,
		log.Named("webhooks"),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("webhook lane starting",
		zap.String("topic", cfg.Kafka.WebhookTopic),
		zap.Int("concurrency", cfg.Dispatcher.WebhookConcurrency),
	)
	return runLane(ctx, log, a.Run)
}
