package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/microsaas/internal/audit/domain"
	"github.com/smallbiznis/microsaas/internal/auth/admintoken"
	balancedomain "github.com/smallbiznis/microsaas/internal/balance/domain"
	"github.com/smallbiznis/microsaas/internal/clock"
	"github.com/smallbiznis/microsaas/internal/config"
	"github.com/smallbiznis/microsaas/internal/credit/domain"
	grantdomain "github.com/smallbiznis/microsaas/internal/grant/domain"
	"github.com/smallbiznis/microsaas/internal/observability/logger"
	"github.com/smallbiznis/microsaas/internal/observability/metrics"
	"github.com/smallbiznis/microsaas/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/microsaas/internal/payment/domain"
	purchasedomain "github.com/smallbiznis/microsaas/internal/purchase/domain"
	"github.com/smallbiznis/microsaas/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	sourcePurchase = "purchase"
	sourceGrant    = "grant"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Cfg       config.Config
	GenID     *snowflake.Node
	Clock     clock.Clock
	Plan      *config.PlanConfigHolder
	Balances  balancedomain.Service
	Purchases purchasedomain.Repository
	Grants    grantdomain.Repository
	Events    auditdomain.Service
	Registry  *adapters.Registry
	Verifier  *admintoken.Verifier
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	cfg       config.Config
	genID     *snowflake.Node
	clock     clock.Clock
	plan      *config.PlanConfigHolder
	balances  balancedomain.Service
	purchases purchasedomain.Repository
	grants    grantdomain.Repository
	events    auditdomain.Service
	registry  *adapters.Registry
	verifier  *admintoken.Verifier
	metrics   *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("credit.service"),
		cfg:       p.Cfg,
		genID:     p.GenID,
		clock:     p.Clock,
		plan:      p.Plan,
		balances:  p.Balances,
		purchases: p.Purchases,
		grants:    p.Grants,
		events:    p.Events,
		registry:  p.Registry,
		verifier:  p.Verifier,
		metrics:   p.Metrics,
	}
}

// HandleWebhook moves one delivery to a terminal outcome. Only a verified,
// completed payment with a known user reaches the credit transaction, and the
// ledger's unique key decides which of several concurrent deliveries wins it.
func (s *Service) HandleWebhook(ctx context.Context, provider string, headers http.Header, body []byte) (domain.Outcome, error) {
	adapter, err := s.registry.Adapter(provider)
	if err != nil {
		return domain.Outcome{}, domain.ErrProviderNotFound
	}
	name := strings.ToLower(strings.TrimSpace(adapter.Provider()))

	event, err := adapter.Parse(body)
	if err != nil {
		return domain.Outcome{}, err
	}
	event.Provider = name

	started := time.Now()
	verdict := adapter.Verify(ctx, headers, body)
	s.metrics.ObserveVerify(name, verdict.OK, time.Since(started))

	outcome, err := s.settle(ctx, event, verdict, body)
	if err != nil {
		s.metrics.RecordStorageError("webhook", err)
		logger.FromContext(ctx).Error("webhook settlement failed",
			zap.String("provider", name),
			zap.String("provider_ref", event.ProviderRef),
			zap.Error(err),
		)
		return domain.Outcome{}, err
	}

	s.metrics.RecordWebhookOutcome(ctx, name, string(outcome.Kind))
	logger.FromContext(ctx).Info("webhook settled",
		zap.String("provider", name),
		zap.String("provider_ref", event.ProviderRef),
		zap.String("event_type", event.EventType),
		zap.String("outcome", string(outcome.Kind)),
		zap.String("reason", outcome.Reason),
	)

	if outcome.Kind == domain.OutcomeCredited {
		s.metrics.AddCreditsGranted(sourcePurchase, outcome.Credits)
		s.recordEvent(ctx, auditdomain.EventPurchaseCredited, outcome.UserID, map[string]any{
			"provider":     name,
			"provider_ref": event.ProviderRef,
			"credits":      outcome.Credits,
		})
	}
	return outcome, nil
}

func (s *Service) settle(ctx context.Context, event *paymentdomain.PaymentEvent, verdict paymentdomain.Verdict, body []byte) (domain.Outcome, error) {
	ctx, cancel := db.WithTimeout(ctx, s.cfg)
	defer cancel()

	outcome := domain.Outcome{
		Provider:    event.Provider,
		ProviderRef: event.ProviderRef,
		EventType:   event.EventType,
		UserID:      event.UserID,
	}
	now := s.clock.Now()

	if !verdict.OK {
		record := s.newRecord(event, body, purchasedomain.StatusRejected(verdict.Reason), false, now)
		if _, err := s.purchases.RecordSeen(ctx, s.db, record); err != nil {
			return domain.Outcome{}, fmt.Errorf("record rejected delivery: %w", err)
		}
		outcome.Kind = domain.OutcomeRejected
		outcome.Reason = verdict.Reason
		return outcome, nil
	}

	if !event.Completed {
		record := s.newRecord(event, body, purchasedomain.StatusIgnored(event.EventType), true, now)
		record.ProviderRef = ignoredKey(event)
		if _, err := s.purchases.RecordSeen(ctx, s.db, record); err != nil {
			return domain.Outcome{}, fmt.Errorf("record ignored delivery: %w", err)
		}
		outcome.Kind = domain.OutcomeIgnored
		return outcome, nil
	}

	existing, err := s.purchases.Find(ctx, s.db, event.Provider, event.ProviderRef)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("find purchase: %w", err)
	}
	if existing != nil && existing.Consumed() {
		outcome.Kind = domain.OutcomeDuplicate
		return outcome, nil
	}

	if strings.TrimSpace(event.UserID) == "" {
		reason := paymentdomain.ErrUserIDMissingInEvent.Error()
		record := s.newRecord(event, body, purchasedomain.StatusRejected(reason), true, now)
		settled, err := s.purchases.MarkRejected(ctx, s.db, record, reason)
		if err != nil {
			return domain.Outcome{}, fmt.Errorf("record rejected delivery: %w", err)
		}
		if !settled {
			outcome.Kind = domain.OutcomeDuplicate
			return outcome, nil
		}
		outcome.Kind = domain.OutcomeRejected
		outcome.Reason = reason
		return outcome, nil
	}

	plan := s.plan.Get()
	record := s.newRecord(event, body, purchasedomain.StatusCredited, true, now)
	record.CreditsGranted = plan.PaidPackCredits

	var (
		credited bool
		updated  balancedomain.UserBalance
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.purchases.MarkCredited(ctx, tx, record)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		updated, err = s.balances.WithTx(tx).Credit(ctx, event.UserID, plan.PaidPackCredits)
		if err != nil {
			return err
		}
		credited = true
		return nil
	})
	if err != nil && !db.IsDuplicateKeyErr(err) {
		return domain.Outcome{}, fmt.Errorf("credit purchase: %w", err)
	}

	if !credited {
		outcome.Kind = domain.OutcomeDuplicate
		return outcome, nil
	}

	summary := balancedomain.Summary(updated, plan.FreeDailyLimit)
	outcome.Kind = domain.OutcomeCredited
	outcome.Credits = plan.PaidPackCredits
	outcome.Balance = &summary
	return outcome, nil
}

func (s *Service) Debit(ctx context.Context, userID string) (domain.DebitResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.DebitResult{}, domain.ErrInvalidUserID
	}

	charge, err := s.balances.TryDebit(ctx, userID)
	if err != nil {
		if !errors.Is(err, balancedomain.ErrInsufficientCredit) {
			s.metrics.RecordStorageError("debit", err)
		}
		return domain.DebitResult{}, err
	}

	s.metrics.RecordDebit(charge.Used)
	s.recordEvent(ctx, auditdomain.EventUse, userID, map[string]any{"mode": charge.Used})

	return domain.DebitResult{
		UserID:  userID,
		Used:    charge.Used,
		Credits: balancedomain.Summary(charge.Balance, s.plan.Get().FreeDailyLimit),
	}, nil
}

func (s *Service) Credits(ctx context.Context, userID string) (domain.CreditsView, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CreditsView{}, domain.ErrInvalidUserID
	}

	balance, err := s.balances.GetOrCreate(ctx, userID)
	if err != nil {
		s.metrics.RecordStorageError("credits", err)
		return domain.CreditsView{}, err
	}

	plan := s.plan.Get()
	return domain.CreditsView{
		UserID:          userID,
		Credits:         balancedomain.Summary(balance, plan.FreeDailyLimit),
		FreeDailyLimit:  plan.FreeDailyLimit,
		PaidPackCredits: plan.PaidPackCredits,
	}, nil
}

// AdminGrant adds paid credits on an operator's behalf. The grant row and the
// balance increment commit together.
func (s *Service) AdminGrant(ctx context.Context, req domain.GrantRequest) (domain.GrantResult, error) {
	if !s.verifier.Verify(strings.TrimSpace(req.AdminToken)) {
		return domain.GrantResult{}, domain.ErrUnauthorized
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return domain.GrantResult{}, domain.ErrInvalidUserID
	}

	plan := s.plan.Get()
	credits := plan.GrantDefaultCredits
	if req.Credits != nil {
		credits = *req.Credits
	}
	if credits <= 0 {
		return domain.GrantResult{}, domain.ErrInvalidCredits
	}
	note := truncateRunes(strings.TrimSpace(req.Note), grantdomain.MaxNoteLength)

	ctx, cancel := db.WithTimeout(ctx, s.cfg)
	defer cancel()

	var updated balancedomain.UserBalance
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := &grantdomain.Record{
			ID:        s.genID.Generate(),
			UserID:    userID,
			Credits:   credits,
			Note:      note,
			CreatedAt: s.clock.Now(),
		}
		if err := s.grants.Insert(ctx, tx, record); err != nil {
			return err
		}

		var err error
		updated, err = s.balances.WithTx(tx).Credit(ctx, userID, credits)
		return err
	})
	if err != nil {
		s.metrics.RecordStorageError("grant", err)
		return domain.GrantResult{}, fmt.Errorf("grant credits: %w", err)
	}

	s.metrics.AddCreditsGranted(sourceGrant, credits)
	s.recordEvent(ctx, auditdomain.EventLocalGrant, userID, map[string]any{
		"credits": credits,
		"note":    note,
	})
	s.log.Info("credits granted", zap.String("user_id", userID), zap.Int64("credits", credits))

	return domain.GrantResult{
		UserID:   userID,
		Credited: credits,
		Credits:  balancedomain.Summary(updated, plan.FreeDailyLimit),
	}, nil
}

func (s *Service) Stats(ctx context.Context, adminToken string) (domain.Stats, error) {
	if !s.verifier.Verify(strings.TrimSpace(adminToken)) {
		return domain.Stats{}, domain.ErrUnauthorized
	}

	ctx, cancel := db.WithTimeout(ctx, s.cfg)
	defer cancel()

	start, end := clock.DayBounds(s.clock.Now())
	var (
		stats domain.Stats
		err   error
	)
	if stats.DAUToday, err = s.events.CountDistinctUsers(ctx, start, end); err != nil {
		return domain.Stats{}, fmt.Errorf("count active users: %w", err)
	}
	if stats.UsesToday, err = s.events.CountByType(ctx, auditdomain.EventUse, start, end); err != nil {
		return domain.Stats{}, fmt.Errorf("count uses: %w", err)
	}
	if stats.Purchases.Total, err = s.purchases.CountCredited(ctx, s.db, nil); err != nil {
		return domain.Stats{}, fmt.Errorf("count purchases: %w", err)
	}
	if stats.Purchases.Today, err = s.purchases.CountCredited(ctx, s.db, &start); err != nil {
		return domain.Stats{}, fmt.Errorf("count purchases: %w", err)
	}
	if stats.LocalGrants.Total, err = s.grants.Count(ctx, s.db, nil); err != nil {
		return domain.Stats{}, fmt.Errorf("count grants: %w", err)
	}
	if stats.LocalGrants.Today, err = s.grants.Count(ctx, s.db, &start); err != nil {
		return domain.Stats{}, fmt.Errorf("count grants: %w", err)
	}
	return stats, nil
}

func (s *Service) newRecord(event *paymentdomain.PaymentEvent, body []byte, status string, verified bool, now time.Time) *purchasedomain.Record {
	record := &purchasedomain.Record{
		ID:          s.genID.Generate(),
		Provider:    event.Provider,
		ProviderRef: event.ProviderRef,
		EventID:     event.EventID,
		EventType:   event.EventType,
		Status:      status,
		Amount:      event.Amount,
		Currency:    event.Currency,
		Verified:    verified,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if userID := strings.TrimSpace(event.UserID); userID != "" {
		record.UserID = &userID
	}
	if json.Valid(body) {
		record.RawPayload = datatypes.JSON(body)
	}
	return record
}

// recordEvent appends to the event log. The log is advisory, so failures are
// logged and dropped.
func (s *Service) recordEvent(ctx context.Context, eventType, userID string, metadata map[string]any) {
	if err := s.events.Record(ctx, eventType, userID, metadata); err != nil {
		logger.FromContext(ctx).Warn("event log write failed",
			zap.String("type", eventType),
			zap.Error(err),
		)
	}
}

func truncateRunes(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	return string([]rune(value)[:limit])
}

// ignoredKey keys a lifecycle event away from the payment's reference so the
// completion that follows can still settle it.
func ignoredKey(event *paymentdomain.PaymentEvent) string {
	if event.EventID != "" {
		return event.EventID
	}
	return purchasedomain.StatusIgnored(event.EventType) + ":" + event.ProviderRef
}
