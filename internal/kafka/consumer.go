package kafka

import (
	"context"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// AttemptHeader carries the delivery attempt number of a re-published message.
const AttemptHeader = "x-attempt"

type Config struct {
	Brokers        []string
	Topic          string
	GroupID        string
	MinBytes       int           // default 1KB
	MaxBytes       int           // default 10MB
	CommitInterval time.Duration // 0 = sync commit per message
	MaxWait        time.Duration // default 50ms
}

// Consumer is a thin wrapper around segmentio/kafka-go Reader.
type Consumer struct {
	r *kafka.Reader
}

func NewConsumerFromConfig(c Config) *Consumer {
	return &Consumer{r: kafka.NewReader(readerConfig(c))}
}

func readerConfig(c Config) kafka.ReaderConfig {
	minBytes := c.MinBytes
	if minBytes <= 0 {
		minBytes = 1 << 10 // 1KB
	}
	maxBytes := c.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20 // 10MB
	}
	ci := c.CommitInterval
	if ci < 0 {
		ci = 0
	}

	mw := c.MaxWait
	if mw <= 0 {
		mw = 50 * time.Millisecond
	}

	return kafka.ReaderConfig{
		Brokers:        c.Brokers,
		GroupID:        c.GroupID,
		Topic:          c.Topic,
		MinBytes:       minBytes,
		MaxBytes:       maxBytes,
		CommitInterval: ci,
		MaxWait:        mw,
	}
}

type (
	Message = kafka.Message
	Header  = kafka.Header
)

func (c *Consumer) Fetch(ctx context.Context) (Message, error) {
	return c.r.FetchMessage(ctx)
}

func (c *Consumer) Commit(ctx context.Context, m Message) error {
	return c.r.CommitMessages(ctx, m)
}

func (c *Consumer) Close() error { return c.r.Close() }

// Attempt reads AttemptHeader; messages without it are on their first attempt.
func Attempt(m Message) int {
	for _, h := range m.Headers {
		if h.Key == AttemptHeader {
			if n, err := strconv.Atoi(string(h.Value)); err == nil && n > 0 {
				return n
			}
		}
	}
	return 1
}

// WithAttempt returns headers with AttemptHeader replaced by n.
func WithAttempt(headers []Header, n int) []Header {
	out := make([]Header, 0, len(headers)+1)
	for _, h := range headers {
		if h.Key != AttemptHeader {
			out = append(out, h)
		}
	}
	return append(out, Header{Key: AttemptHeader, Value: []byte(strconv.Itoa(n))})
}
