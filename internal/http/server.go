package http

import (
	"context"
	"net/http"
	"time"

	"github.com/jmehdipour/outreach-mailer/internal/clock"
	"github.com/jmehdipour/outreach-mailer/internal/config"
	"github.com/jmehdipour/outreach-mailer/internal/http/middleware"
	"github.com/jmehdipour/outreach-mailer/internal/metrics"
	"github.com/jmehdipour/outreach-mailer/internal/model"
	"github.com/jmehdipour/outreach-mailer/internal/queue"
	"github.com/jmehdipour/outreach-mailer/internal/repository"
	"github.com/jmehdipour/outreach-mailer/internal/service/jobs"
	"github.com/jmehdipour/outreach-mailer/internal/tracking"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Records  repository.SendRecordsRepository
	Leads    repository.LeadsRepository
	Reports  repository.CHSendRecordsRepository
	Jobs     jobEnqueuer
	Webhooks queue.Publisher[model.WebhookEvent]
	Redis    *redis.Client
	Clock    clock.Clock
	Log      *zap.Logger
}

func NewServer(cfg config.Config, mysqlDB, clickhouseDB *sqlx.DB, rds *redis.Client, webhooks queue.Publisher[model.WebhookEvent], logger *zap.Logger) *Server {
	metrics.MustRegister(prometheus.DefaultRegisterer)

	return newServer(cfg.HTTP, Deps{
		Records:  repository.NewSendRecordsRepository(mysqlDB),
		Leads:    repository.NewLeadsRepository(mysqlDB),
		Reports:  repository.NewCHSendRecordsRepository(clickhouseDB),
		Jobs:     jobs.New(mysqlDB, repository.NewOutboxRepository(mysqlDB), cfg.Kafka.SendTopic),
		Webhooks: webhooks,
		Redis:    rds,
		Clock:    clock.System{},
		Log:      logger,
	})
}

func newServer(cfg config.HTTPConfig, d Deps) *Server {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = clock.System{}
	}

	// echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(log.WARN)
	e.Use(echoMid.Recover(), requestLogger(d.Log))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// tracking (public)
	th := &trackingHandler{records: d.Records, leads: d.Leads, clock: d.Clock, log: d.Log}
	e.GET("/o.png", th.pixel)
	e.GET("/r/:token", th.redirect)
	e.GET("/unsubscribe/:token", th.unsubscribe)
	e.POST("/unsubscribe/:token", th.unsubscribe)

	// provider callbacks (unauthenticated)
	e.POST("/webhooks/email", webhookHandler(d.Webhooks, d.Log))

	// middlewares
	clients := make([]middleware.Client, 0, len(cfg.APIClients))
	for _, c := range cfg.APIClients {
		clients = append(clients, middleware.Client{Name: c.Name, Key: c.Key, RPS: c.RPS})
	}
	if len(clients) == 0 {
		d.Log.Warn("no api clients configured; /v1 routes will reject every request")
	}
	authMW := middleware.APIKeyMiddleware(clients)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          d.Redis,
		DefaultRPS:     cfg.ClientRPS,
		KeyPrefix:      "mailer:rl:client:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// routes
	v1 := e.Group("/v1", authMW, rlMW)
	v1.POST("/jobs/send", sendJobsHandler(d.Jobs, d.Log))
	v1.GET("/reports/steps/:id/sends", listStepSendsHandler(d.Reports, d.Log))
	v1.GET("/reports/steps/:id/stats", stepStatsHandler(d.Reports, d.Log))
	v1.POST("/tracking/links", trackingLinksHandler(tracking.Links{BaseURL: cfg.BaseURL}, d.Log))

	return &Server{e: e, log: d.Log}
}

func requestLogger(l *zap.Logger) echo.MiddlewareFunc {
	return echoMid.RequestLoggerWithConfig(echoMid.RequestLoggerConfig{
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v echoMid.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("path", v.URIPath),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				l.Warn("http request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			l.Debug("http request", fields...)
			return nil
		},
	})
}

// ServeHTTP lets tests drive the router without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.e.ServeHTTP(w, r) }

func (s *Server) Start(addr string) error {
	s.log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
