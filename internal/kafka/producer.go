package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer writes messages to a single topic.
type Producer struct {
	w *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}}
}

func (p *Producer) Write(ctx context.Context, msgs ...Message) error {
	return p.w.WriteMessages(ctx, msgs...)
}

func (p *Producer) Close() error { return p.w.Close() }
