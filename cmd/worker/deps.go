package worker

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmehdipour/outreach-mailer/internal/clock"
	"github.com/jmehdipour/outreach-mailer/internal/config"
	"github.com/jmehdipour/outreach-mailer/internal/dispatcher"
	"github.com/jmehdipour/outreach-mailer/internal/ratelimit"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// buildDispatcher turns enabled HTTP providers and the optional SMTP relay into one deliverer.
func buildDispatcher(cfg config.Config, log *zap.Logger) (*dispatcher.Dispatcher, error) {
	var provs []dispatcher.Provider
	for _, pc := range cfg.Providers {
		if !pc.Enabled || strings.TrimSpace(pc.BaseURL) == "" {
			continue
		}
		provs = append(provs,
			dispatcher.NewHTTPProvider(
				pc.Name,
				strings.TrimRight(pc.BaseURL, "/"),
				pc.SendPath,
				pc.TimeoutMs,
				pc.Breaker.FailThreshold,
				pc.Breaker.OpenForMs,
			),
		)
	}
	if cfg.SMTP.Enabled {
		provs = append(provs, dispatcher.NewSMTPProvider(dispatcher.SMTPConfig{
			Name:            "smtp",
			Host:            cfg.SMTP.Host,
			Port:            cfg.SMTP.Port,
			Username:        cfg.SMTP.Username,
			Password:        cfg.SMTP.Password,
			FromName:        cfg.SMTP.FromName,
			FromEmail:       cfg.SMTP.FromEmail,
			MessageIDDomain: cfg.SMTP.MessageIDDomain,
			FailThreshold:   cfg.SMTP.Breaker.FailThreshold,
			OpenForMs:       cfg.SMTP.Breaker.OpenForMs,
		}))
	}
	if len(provs) == 0 {
		return nil, errors.New("no providers enabled in config")
	}
	return dispatcher.NewDispatcher(provs, cfg.Dispatcher.MaxAttempts, log), nil
}

// buildLimiter returns the send window for the configured backend. The redis
// backend shares one window across every sender process.
func buildLimiter(cfg config.RateLimitConfig, rdb redis.Scripter, clk clock.Clock) (ratelimit.Limiter, error) {
	switch cfg.Backend {
	case "", config.RateLimitMemory:
		return ratelimit.NewWindow(cfg.Capacity, clk), nil
	case config.RateLimitRedis:
		if rdb == nil {
			return nil, errors.New("rate_limit.backend is redis but no redis client is configured")
		}
		return ratelimit.NewRedisWindow(rdb, cfg.RedisKey, cfg.Capacity), nil
	default:
		return nil, fmt.Errorf("unknown rate_limit.backend %q", cfg.Backend)
	}
}

func pollInterval(cfg config.DispatcherConfig) time.Duration {
	if cfg.PollInterval <= 0 {
		return time.Second
	}
	return cfg.PollInterval
}
