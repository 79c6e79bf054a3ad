package metrics

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

// Config labels every series with the running service.
type Config struct {
	ServiceName string
	Environment string
}

const (
	ReasonDeadlineExceeded     = "deadline_exceeded"
	ReasonDBLockTimeout        = "db_lock_timeout"
	ReasonSerializationFailure = "serialization_failure"
	ReasonUniqueViolation      = "unique_violation"
	ReasonUnknown              = "unknown"
)

// Metrics exposes the credit engine instruments.
type Metrics struct {
	webhookOutcomes *prometheus.CounterVec
	webhookVerify   *prometheus.HistogramVec
	storageErrors   *prometheus.CounterVec
	debits          *prometheus.CounterVec
	creditsGranted  *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New registers the instruments with the default prometheus registry.
func New(cfg Config) (*Metrics, error) {
	return NewWithRegisterer(prometheus.DefaultRegisterer, cfg)
}

// NewWithRegisterer registers the instruments with registerer.
func NewWithRegisterer(registerer prometheus.Registerer, cfg Config) (*Metrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "micro-saas"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{"service": serviceName, "env": environment}

	m := &Metrics{
		webhookOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "microsaas_webhook_outcomes_total",
			Help:        "Payment webhook deliveries by provider and outcome.",
			ConstLabels: constLabels,
		}, []string{"provider", "outcome"}),
		webhookVerify: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "microsaas_webhook_verify_duration_seconds",
			Help:        "Latency of provider signature verification.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			ConstLabels: constLabels,
		}, []string{"provider", "verified"}),
		storageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "microsaas_storage_errors_total",
			Help:        "Storage failures by operation and low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"operation", "reason"}),
		debits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "microsaas_debits_total",
			Help:        "Usage debits by charged bucket.",
			ConstLabels: constLabels,
		}, []string{"mode"}),
		creditsGranted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "microsaas_credits_granted_total",
			Help:        "Paid credits added to balances by source.",
			ConstLabels: constLabels,
		}, []string{"source"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "microsaas_rate_limited_total",
			Help:        "Requests rejected by the rate limiter.",
			ConstLabels: constLabels,
		}, []string{"endpoint"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "microsaas_http_requests_total",
			Help:        "HTTP requests by route and status.",
			ConstLabels: constLabels,
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "microsaas_http_request_duration_seconds",
			Help:        "HTTP request latency by route.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}, []string{"method", "route"}),
	}

	for _, collector := range []prometheus.Collector{
		m.webhookOutcomes,
		m.webhookVerify,
		m.storageErrors,
		m.debits,
		m.creditsGranted,
		m.rateLimited,
		m.httpRequests,
		m.httpDuration,
	} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) RecordWebhookOutcome(_ context.Context, provider, outcome string) {
	if m == nil {
		return
	}
	m.webhookOutcomes.WithLabelValues(strings.TrimSpace(provider), outcome).Inc()
}

func (m *Metrics) ObserveVerify(provider string, verified bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.webhookVerify.WithLabelValues(provider, strconv.FormatBool(verified)).Observe(duration.Seconds())
}

// RecordStorageError counts a failed storage operation, classified by ClassifyStorageError.
func (m *Metrics) RecordStorageError(operation string, err error) {
	if m == nil || err == nil {
		return
	}
	m.storageErrors.WithLabelValues(operation, ClassifyStorageError(err)).Inc()
}

func (m *Metrics) RecordDebit(mode string) {
	if m == nil {
		return
	}
	m.debits.WithLabelValues(mode).Inc()
}

func (m *Metrics) AddCreditsGranted(source string, credits int64) {
	if m == nil || credits <= 0 {
		return
	}
	m.creditsGranted.WithLabelValues(source).Add(float64(credits))
}

func (m *Metrics) RecordRateLimited(endpoint string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(endpoint).Inc()
}

// GinMiddleware records request counts and latency keyed by route template.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if m == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// ClassifyStorageError maps driver errors to a bounded label set.
func ClassifyStorageError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonDeadlineExceeded
	case errors.Is(err, gorm.ErrDuplicatedKey), hasPGCode(err, "23505"):
		return ReasonUniqueViolation
	case hasPGCode(err, "55P03"):
		return ReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return ReasonSerializationFailure
	default:
		return ReasonUnknown
	}
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
