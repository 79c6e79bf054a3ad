package server

import (
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/microsaas/internal/observability/logger"
	"github.com/smallbiznis/microsaas/internal/ratelimit"
	"go.uber.org/zap"
)

func (s *Server) WebhookRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.allow(c, ratelimit.ScopeWebhook, c.ClientIP()) {
			return
		}
		c.Next()
	}
}

// allow reports whether the request may proceed. Limiter failures let it through.
func (s *Server) allow(c *gin.Context, scope ratelimit.Scope, key string) bool {
	if !s.limiter.Enabled() || key == "" {
		return true
	}

	ctx := c.Request.Context()
	decision, err := s.limiter.Allow(ctx, scope, key)
	if err != nil {
		logger.FromContext(ctx).Warn("rate limit check failed", zap.String("scope", string(scope)), zap.Error(err))
		return true
	}
	if decision.Allowed {
		return true
	}

	endpoint := c.FullPath()
	if endpoint == "" {
		endpoint = "unknown"
	}
	s.metrics.RecordRateLimited(endpoint)
	logger.FromContext(ctx).Warn("rate limit exceeded",
		zap.String("scope", string(scope)),
		zap.String("endpoint", endpoint),
	)

	retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	AbortWithError(c, ErrRateLimited)
	return false
}
