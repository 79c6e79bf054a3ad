package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/microsaas/internal/audit"
	"github.com/smallbiznis/microsaas/internal/auth/admintoken"
	"github.com/smallbiznis/microsaas/internal/balance"
	"github.com/smallbiznis/microsaas/internal/config"
	"github.com/smallbiznis/microsaas/internal/credit"
	creditdomain "github.com/smallbiznis/microsaas/internal/credit/domain"
	"github.com/smallbiznis/microsaas/internal/grant"
	obslogger "github.com/smallbiznis/microsaas/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/microsaas/internal/observability/metrics"
	obstracing "github.com/smallbiznis/microsaas/internal/observability/tracing"
	"github.com/smallbiznis/microsaas/internal/payment"
	"github.com/smallbiznis/microsaas/internal/providers"
	"github.com/smallbiznis/microsaas/internal/providers/completion"
	"github.com/smallbiznis/microsaas/internal/purchase"
	"github.com/smallbiznis/microsaas/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const maxWebhookBodyBytes = 1 << 20

var Module = fx.Module("http.server",
	fx.Provide(admintoken.New),
	audit.Module,
	balance.Module,
	purchase.Module,
	grant.Module,
	payment.Module,
	credit.Module,
	providers.Module,
	ratelimit.Module,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, m *obsmetrics.Metrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(m.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())
	return r
}

func run(lc fx.Lifecycle, cfg config.Config, srv *Server, log *zap.Logger) {
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine    *gin.Engine
	cfg       config.Config
	creditSvc creditdomain.Service
	generator completion.Generator
	limiter   *ratelimit.Limiter
	metrics   *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin       *gin.Engine
	Cfg       config.Config
	CreditSvc creditdomain.Service
	Generator completion.Generator
	Limiter   *ratelimit.Limiter  `optional:"true"`
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:    p.Gin,
		cfg:       p.Cfg,
		creditSvc: p.CreditSvc,
		generator: p.Generator,
		limiter:   p.Limiter,
		metrics:   p.Metrics,
	}
	svc.registerRoutes()
	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.Health)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	for _, prefix := range []string{"", "/api"} {
		group := s.engine.Group(prefix)
		group.GET("/credits", s.GetCredits)
		group.POST("/use", s.Use)
	}

	webhooks := s.engine.Group("/payments", s.WebhookRateLimit())
	webhooks.POST("/webhook", s.HandlePayPalWebhook)
	webhooks.POST("/webhook/:provider", s.HandlePaymentWebhook)
	s.engine.POST("/api/paypal/webhook", s.WebhookRateLimit(), s.HandlePayPalWebhook)

	s.engine.POST("/admin/grant", s.AdminGrant)
	s.engine.POST("/api/unlock/local", s.AdminGrant)
	s.engine.GET("/admin/stats", s.AdminStats)

	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}

func (s *Server) Health(c *gin.Context) {
	model := "demo"
	if s.generator != nil {
		model = s.generator.Model()
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"service": s.cfg.AppName,
		"model":   model,
	})
}
