package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// EnvPrefix is prepended to every environment override, e.g. MAILER_RATE_LIMIT_CAPACITY.
const EnvPrefix = "MAILER"

// ---- Root ----

type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Log        LogConfig        `mapstructure:"log"`
	MySQL      DatabaseConfig   `mapstructure:"mysql"`
	ClickHouse DatabaseConfig   `mapstructure:"clickhouse"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Providers  []ProviderConfig `mapstructure:"providers"`
	SMTP       SMTPConfig       `mapstructure:"smtp"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr    string `mapstructure:"addr"`
	BaseURL string `mapstructure:"base_url"` // public origin used in tracking links
	// APIClients guard the /v1 routes. Tracking and webhook routes stay public.
	APIClients []APIClientConfig `mapstructure:"api_clients"`
	ClientRPS  int               `mapstructure:"client_rps"`
}

type APIClientConfig struct {
	Name string `mapstructure:"name"`
	Key  string `mapstructure:"key"`
	RPS  int    `mapstructure:"rps"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	GroupID        string   `mapstructure:"group_id"`
	SendTopic      string   `mapstructure:"send_topic"`
	WebhookTopic   string   `mapstructure:"webhook_topic"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

type DispatcherConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	MaxAttempts        int           `mapstructure:"max_attempts"` // provider attempts per send
	WebhookConcurrency int           `mapstructure:"webhook_concurrency"`
	MaxJobAttempts     int           `mapstructure:"max_job_attempts"` // queue redeliveries per job
}

// RateLimitConfig is the global send budget per one-minute window.
type RateLimitConfig struct {
	Capacity int    `mapstructure:"capacity"`
	Backend  string `mapstructure:"backend"` // memory | redis
	RedisKey string `mapstructure:"redis_key"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"    yaml:"open_for_ms"`
}

type ProviderConfig struct {
	Name      string        `mapstructure:"name"`
	Enabled   bool          `mapstructure:"enabled"`
	BaseURL   string        `mapstructure:"base_url"`
	SendPath  string        `mapstructure:"send_path"`
	TimeoutMs int           `mapstructure:"timeout_ms"`
	Breaker   BreakerConfig `mapstructure:"breaker"`
}

type SMTPConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	FromName        string        `mapstructure:"from_name"`
	FromEmail       string        `mapstructure:"from_email"`
	MessageIDDomain string        `mapstructure:"message_id_domain"`
	Breaker         BreakerConfig `mapstructure:"breaker"`
}

const (
	RateLimitMemory = "memory"
	RateLimitRedis  = "redis"
)

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (MAILER_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	// env override (MAILER_*), nested keys use underscores
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the lanes cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.RateLimit.Capacity < 0 {
		errs = append(errs, errors.New("rate_limit.capacity must not be negative"))
	}
	switch c.RateLimit.Backend {
	case RateLimitMemory, RateLimitRedis:
	default:
		errs = append(errs, fmt.Errorf("rate_limit.backend %q is not memory or redis", c.RateLimit.Backend))
	}
	if c.Dispatcher.WebhookConcurrency <= 0 {
		errs = append(errs, errors.New("dispatcher.webhook_concurrency must be positive"))
	}
	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is empty"))
	}
	if c.Kafka.SendTopic == "" || c.Kafka.WebhookTopic == "" {
		errs = append(errs, errors.New("kafka.send_topic and kafka.webhook_topic are required"))
	}

	deliverers := 0
	for _, p := range c.Providers {
		if p.Enabled {
			deliverers++
		}
	}
	if c.SMTP.Enabled {
		deliverers++
	}
	if deliverers == 0 {
		errs = append(errs, errors.New("no enabled provider or smtp deliverer"))
	}
	return errors.Join(errs...)
}
