package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/microsaas/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Scope string

const (
	ScopeUse     Scope = "use"
	ScopeWebhook Scope = "webhook"

	keyPattern = "microsaas:ratelimit:%s:%s"
)

var ErrUnknownScope = errors.New("unknown rate limit scope")

// Policy is a token bucket refilled at Rate tokens per second up to Burst.
type Policy struct {
	Rate  float64
	Burst int
}

func (p Policy) validate() error {
	if p.Rate <= 0 {
		return errors.New("rate limit rate must be positive")
	}
	if p.Burst <= 0 {
		return errors.New("rate limit burst must be positive")
	}
	return nil
}

func (p Policy) retryAfter(remaining float64) time.Duration {
	needed := 1 - remaining
	if needed <= 0 {
		return 0
	}
	return time.Duration(needed / p.Rate * float64(time.Second))
}

// Limiter applies per-scope policies. A nil Limiter allows everything.
type Limiter struct {
	policies map[Scope]Policy
	bucket   *TokenBucket
	local    *localBuckets
}

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Cfg       config.Config
	Log       *zap.Logger
}

func NewLimiter(p Params) (*Limiter, error) {
	log := p.Log.Named("ratelimit")
	cfg := p.Cfg.RateLimit
	if !cfg.Enabled {
		log.Info("rate limiting disabled")
		return nil, nil
	}

	policies := map[Scope]Policy{
		ScopeUse:     {Rate: cfg.UseRate, Burst: cfg.UseBurst},
		ScopeWebhook: {Rate: cfg.WebhookRate, Burst: cfg.WebhookBurst},
	}
	for scope, policy := range policies {
		if err := policy.validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", scope, err)
		}
	}

	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		log.Info("rate limiting in process")
		return NewLocal(policies), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	log.Info("rate limiting through redis", zap.String("addr", addr))
	return NewRedis(client, policies), nil
}

func NewRedis(client redis.Scripter, policies map[Scope]Policy) *Limiter {
	return &Limiter{policies: policies, bucket: NewTokenBucket(client)}
}

func NewLocal(policies map[Scope]Policy) *Limiter {
	return &Limiter{policies: policies, local: newLocalBuckets(0)}
}

func (l *Limiter) Enabled() bool {
	return l != nil
}

// Allow takes one token from the bucket of key within scope.
func (l *Limiter) Allow(ctx context.Context, scope Scope, key string) (Decision, error) {
	if !l.Enabled() {
		return Decision{Allowed: true}, nil
	}
	policy, ok := l.policies[scope]
	if !ok {
		return Decision{}, ErrUnknownScope
	}

	key = fmt.Sprintf(keyPattern, scope, strings.TrimSpace(key))
	if l.bucket != nil {
		return l.bucket.Take(ctx, key, policy)
	}
	return l.local.Take(key, policy), nil
}
