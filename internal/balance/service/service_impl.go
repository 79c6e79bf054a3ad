package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/microsaas/internal/balance/domain"
	"github.com/smallbiznis/microsaas/internal/clock"
	"github.com/smallbiznis/microsaas/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  domain.Repository
	Plan  *config.PlanConfigHolder
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  domain.Repository
	plan  *config.PlanConfigHolder
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("balance.service"),
		clock: p.Clock,
		repo:  p.Repo,
		plan:  p.Plan,
	}
}

func (s *Service) WithTx(tx *gorm.DB) domain.Service {
	clone := *s
	clone.db = tx
	return &clone
}

func (s *Service) GetOrCreate(ctx context.Context, userID string) (domain.UserBalance, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.UserBalance{}, domain.ErrInvalidUserID
	}

	now := s.clock.Now()
	if err := s.prepare(ctx, userID, now); err != nil {
		return domain.UserBalance{}, err
	}
	return s.load(ctx, userID)
}

// TryDebit charges one unit: today's free allowance first, then paid credits.
// Each attempt is a single conditional UPDATE, so concurrent debits never
// take more units than the balance holds.
func (s *Service) TryDebit(ctx context.Context, userID string) (domain.Charge, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Charge{}, domain.ErrInvalidUserID
	}

	now := s.clock.Now()
	today := clock.Date(now)
	if err := s.prepare(ctx, userID, now); err != nil {
		return domain.Charge{}, err
	}

	var used string
	ok, err := s.repo.ConsumeFree(ctx, s.db, userID, today, s.plan.Get().FreeDailyLimit, now)
	if err != nil {
		return domain.Charge{}, fmt.Errorf("consume free allowance: %w", err)
	}
	if ok {
		used = domain.ModeFree
	} else {
		ok, err = s.repo.ConsumePaid(ctx, s.db, userID, now)
		if err != nil {
			return domain.Charge{}, fmt.Errorf("consume paid credit: %w", err)
		}
		if !ok {
			return domain.Charge{}, domain.ErrInsufficientCredit
		}
		used = domain.ModePaid
	}

	balance, err := s.load(ctx, userID)
	if err != nil {
		return domain.Charge{}, err
	}
	return domain.Charge{Used: used, Balance: balance}, nil
}

func (s *Service) Credit(ctx context.Context, userID string, amount int64) (domain.UserBalance, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.UserBalance{}, domain.ErrInvalidUserID
	}
	if amount <= 0 {
		return domain.UserBalance{}, domain.ErrInvalidAmount
	}

	now := s.clock.Now()
	if err := s.prepare(ctx, userID, now); err != nil {
		return domain.UserBalance{}, err
	}
	if err := s.repo.AddPaid(ctx, s.db, userID, amount, now); err != nil {
		return domain.UserBalance{}, fmt.Errorf("add paid credits: %w", err)
	}

	balance, err := s.load(ctx, userID)
	if err != nil {
		return domain.UserBalance{}, err
	}
	s.log.Debug("credits added",
		zap.String("user_id", userID),
		zap.Int64("amount", amount),
		zap.Int64("paid_credits", balance.PaidCredits),
	)
	return balance, nil
}

// prepare creates the row on first reference and rolls the free window to today.
func (s *Service) prepare(ctx context.Context, userID string, now time.Time) error {
	today := clock.Date(now)
	if err := s.repo.Ensure(ctx, s.db, userID, today, now); err != nil {
		return fmt.Errorf("ensure balance: %w", err)
	}
	if err := s.repo.RollWindow(ctx, s.db, userID, today, now); err != nil {
		return fmt.Errorf("roll free window: %w", err)
	}
	return nil
}

func (s *Service) load(ctx context.Context, userID string) (domain.UserBalance, error) {
	item, err := s.repo.Get(ctx, s.db, userID)
	if err != nil {
		return domain.UserBalance{}, fmt.Errorf("load balance: %w", err)
	}
	if item == nil {
		return domain.UserBalance{}, fmt.Errorf("load balance: %w", gorm.ErrRecordNotFound)
	}
	return *item, nil
}
