package http

import (
	"context"
	"net/http"
	"time"

	"github.com/jmehdipour/paysms/internal/http/middleware"
	"github.com/jmehdipour/paysms/internal/idempotency"
	"github.com/jmehdipour/paysms/internal/repository"
	"github.com/jmehdipour/paysms/internal/workflow"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Deps struct {
	Workflow    *workflow.Workflow
	Messages    repository.MessagesRepository
	History     repository.HistoryReader
	Idempotency idempotency.Store // optional
	Redis       *redis.Client     // optional, enables the rate limit
	RateLimit   int               // requests per second per user
	Gatherer    prometheus.Gatherer
	Logger      *zap.Logger
}

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}

	// echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(log.WARN)
	e.Use(echoMid.Recover(), requestLogger(d.Logger))

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	idMW := middleware.IdentityMiddleware()
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          d.Redis,
		RPS:            d.RateLimit,
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// routes
	v1 := e.Group("/v1", idMW, rlMW)
	v1.POST("/messages", sendMessageHandler(d.Workflow, d.Messages, d.Idempotency))
	v1.POST("/messages/quote", quoteHandler(d.Workflow))
	v1.GET("/messages", listMessagesHandler(d.History))
	v1.GET("/messages/:id", getMessageHandler(d.Messages))
	v1.GET("/bills", listBillsHandler(d.History))
	v1.GET("/bills/summary", billSummaryHandler(d.History))

	return &Server{e: e, log: d.Logger}
}

func requestLogger(l *zap.Logger) echo.MiddlewareFunc {
	return echoMid.RequestLoggerWithConfig(echoMid.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v echoMid.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				l.Warn("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			l.Info("request", fields...)
			return nil
		},
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.e.ServeHTTP(w, r) }

func (s *Server) Start(addr string) error {
	s.log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
