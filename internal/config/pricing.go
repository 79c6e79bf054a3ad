package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Plan carries the metering constants of the product.
type Plan struct {
	FreeDailyLimit      int64 `mapstructure:"free_daily_limit" json:"freeDailyLimit"`
	PaidPackCredits     int64 `mapstructure:"paid_pack_credits" json:"paidPackCredits"`
	GrantDefaultCredits int64 `mapstructure:"grant_default_credits" json:"grantDefaultCredits"`
}

func DefaultPlan() Plan {
	return Plan{
		FreeDailyLimit:      3,
		PaidPackCredits:     100,
		GrantDefaultCredits: 100,
	}
}

type PlanConfigHolder struct {
	current atomic.Value // holds Plan
}

// NewStaticPlanHolder returns a holder that never reloads.
func NewStaticPlanHolder(plan Plan) *PlanConfigHolder {
	holder := &PlanConfigHolder{}
	holder.current.Store(plan)
	return holder
}

// NewPlanConfigHolder reads pricing.yml and keeps it in sync with the file on disk.
func NewPlanConfigHolder(cfg Config, log *zap.Logger) (*PlanConfigHolder, error) {
	v := viper.New()

	if path := strings.TrimSpace(cfg.PricingConfigPath); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("pricing")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/micro-saas")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("MICROSAAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPlan()
	v.SetDefault("plan.free_daily_limit", defaults.FreeDailyLimit)
	v.SetDefault("plan.paid_pack_credits", defaults.PaidPackCredits)
	v.SetDefault("plan.grant_default_credits", defaults.GrantDefaultCredits)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	var plan Plan
	if err := v.UnmarshalKey("plan", &plan); err != nil {
		return nil, err
	}
	if err := validatePlan(plan); err != nil {
		return nil, err
	}

	holder := NewStaticPlanHolder(plan)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated Plan
		if err := v.UnmarshalKey("plan", &updated); err != nil {
			log.Warn("pricing config reload failed", zap.Error(err))
			return
		}
		if err := validatePlan(updated); err != nil {
			log.Warn("invalid pricing config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("pricing config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *PlanConfigHolder) Get() Plan {
	return h.current.Load().(Plan)
}

func validatePlan(plan Plan) error {
	if plan.FreeDailyLimit < 0 {
		return errors.New("plan.free_daily_limit cannot be negative")
	}
	if plan.PaidPackCredits <= 0 {
		return errors.New("plan.paid_pack_credits must be positive")
	}
	if plan.GrantDefaultCredits <= 0 {
		return errors.New("plan.grant_default_credits must be positive")
	}
	return nil
}
