package service_test

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	auditdomain "github.com/smallbiznis/microsaas/internal/audit/domain"
	auditrepo "github.com/smallbiznis/microsaas/internal/audit/repository"
	auditservice "github.com/smallbiznis/microsaas/internal/audit/service"
	"github.com/smallbiznis/microsaas/internal/auth/admintoken"
	balancedomain "github.com/smallbiznis/microsaas/internal/balance/domain"
	balancerepo "github.com/smallbiznis/microsaas/internal/balance/repository"
	balanceservice "github.com/smallbiznis/microsaas/internal/balance/service"
	"github.com/smallbiznis/microsaas/internal/clock"
	"github.com/smallbiznis/microsaas/internal/config"
	"github.com/smallbiznis/microsaas/internal/credit/domain"
	"github.com/smallbiznis/microsaas/internal/credit/service"
	grantdomain "github.com/smallbiznis/microsaas/internal/grant/domain"
	grantrepo "github.com/smallbiznis/microsaas/internal/grant/repository"
	"github.com/smallbiznis/microsaas/internal/observability/metrics"
	"github.com/smallbiznis/microsaas/internal/payment/adapters"
	"github.com/smallbiznis/microsaas/internal/payment/adapters/paypal"
	paymentdomain "github.com/smallbiznis/microsaas/internal/payment/domain"
	purchasedomain "github.com/smallbiznis/microsaas/internal/purchase/domain"
	purchaserepo "github.com/smallbiznis/microsaas/internal/purchase/repository"
	"github.com/smallbiznis/microsaas/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	adminToken = "operator-secret"

	captureCompleted = `{"id":"WH-1","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"abc","custom_id":"u1","amount":{"value":"9.99","currency_code":"USD"}}}`
	capturePending   = `{"id":"WH-0","event_type":"PAYMENT.CAPTURE.PENDING","resource":{"id":"abc","custom_id":"u1"}}`
	pendingNoEventID = `{"event_type":"PAYMENT.CAPTURE.PENDING","resource":{"id":"abc","custom_id":"u1"}}`
	captureNoUser    = `{"id":"WH-3","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"nouser","amount":{"value":"9.99","currency_code":"USD"}}}`
)

// stubAdapter parses real PayPal payloads and returns a scripted verdict.
type stubAdapter struct {
	parser *paypal.Adapter

	mu      sync.Mutex
	verdict paymentdomain.Verdict
}

func (a *stubAdapter) Provider() string { return paymentdomain.ProviderPayPal }

func (a *stubAdapter) Verify(context.Context, http.Header, []byte) paymentdomain.Verdict {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.verdict
}

func (a *stubAdapter) Parse(body []byte) (*paymentdomain.PaymentEvent, error) {
	return a.parser.Parse(body)
}

func (a *stubAdapter) setVerdict(v paymentdomain.Verdict) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.verdict = v
}

type fixture struct {
	svc      domain.Service
	db       *gorm.DB
	clock    *clock.FakeClock
	adapter  *stubAdapter
	balances balancedomain.Service
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	return buildFixture(t, dbtest.New(t), token)
}

func buildFixture(t *testing.T, conn *gorm.DB, token string) *fixture {
	t.Helper()

	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	m, err := metrics.NewWithRegisterer(prometheus.NewRegistry(), metrics.Config{ServiceName: "test"})
	require.NoError(t, err)

	plan := config.NewStaticPlanHolder(config.DefaultPlan())
	log := zap.NewNop()

	balances := balanceservice.NewService(balanceservice.Params{
		DB:    conn,
		Log:   log,
		Clock: clk,
		Repo:  balancerepo.Provide(),
		Plan:  plan,
	})
	events := auditservice.NewService(auditservice.Params{
		DB:    conn,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  auditrepo.Provide(),
	})
	adapter := &stubAdapter{
		parser:  paypal.New(config.PayPalConfig{}, time.Second, nil),
		verdict: paymentdomain.Verified(),
	}

	svc := service.NewService(service.Params{
		DB:        conn,
		Log:       log,
		Cfg:       config.Config{DBQueryTimeout: 5 * time.Second},
		GenID:     node,
		Clock:     clk,
		Plan:      plan,
		Balances:  balances,
		Purchases: purchaserepo.Provide(),
		Grants:    grantrepo.Provide(),
		Events:    events,
		Registry:  adapters.NewRegistry(adapter),
		Verifier:  admintoken.New(config.Config{AdminToken: token}),
		Metrics:   m,
	})

	return &fixture{svc: svc, db: conn, clock: clk, adapter: adapter, balances: balances}
}

func (f *fixture) deliver(t *testing.T, body string) domain.Outcome {
	t.Helper()
	outcome, err := f.svc.HandleWebhook(context.Background(), "paypal", nil, []byte(body))
	require.NoError(t, err)
	return outcome
}

func (f *fixture) purchase(t *testing.T, ref string) *purchasedomain.Record {
	t.Helper()
	record, err := purchaserepo.Provide().Find(context.Background(), f.db, "paypal", ref)
	require.NoError(t, err)
	return record
}

func TestHandleWebhookCreditsCaptureOnce(t *testing.T) {
	f := newFixture(t, adminToken)

	first := f.deliver(t, captureCompleted)
	assert.Equal(t, domain.OutcomeCredited, first.Kind)
	assert.Equal(t, "u1", first.UserID)
	assert.Equal(t, int64(100), first.Credits)
	require.NotNil(t, first.Balance)
	assert.Equal(t, balancedomain.Credits{FreeLeft: 3, Paid: 100, Total: 103}, *first.Balance)

	second := f.deliver(t, captureCompleted)
	assert.Equal(t, domain.OutcomeDuplicate, second.Kind)
	assert.True(t, second.Acknowledged())

	view, err := f.svc.Credits(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), view.Paid)
	assert.Equal(t, int64(3), view.FreeDailyLimit)
	assert.Equal(t, int64(100), view.PaidPackCredits)

	record := f.purchase(t, "abc")
	require.NotNil(t, record)
	assert.Equal(t, purchasedomain.StatusCredited, record.Status)
	assert.True(t, record.Verified)
	assert.Equal(t, "9.99", record.Amount.Decimal.StringFixed(2))
	assert.Equal(t, "USD", record.Currency)
	assert.Equal(t, int64(100), record.CreditsGranted)

	var logged int64
	require.NoError(t, f.db.Model(&auditdomain.Event{}).Where("type = ?", auditdomain.EventPurchaseCredited).Count(&logged).Error)
	assert.Equal(t, int64(1), logged)
}

func TestHandleWebhookConcurrentDeliveriesCreditOnce(t *testing.T) {
	f := newFixture(t, adminToken)

	const deliveries = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[domain.OutcomeKind]int{}
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := f.svc.HandleWebhook(context.Background(), "paypal", nil, []byte(captureCompleted))
			if err != nil {
				t.Errorf("deliver: %v", err)
				return
			}
			mu.Lock()
			outcomes[outcome.Kind]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, outcomes[domain.OutcomeCredited])
	assert.Equal(t, deliveries-1, outcomes[domain.OutcomeDuplicate])

	balance, err := f.balances.GetOrCreate(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance.PaidCredits)
}

func TestHandleWebhookFailsClosed(t *testing.T) {
	f := newFixture(t, adminToken)
	f.adapter.setVerdict(paymentdomain.Rejected(paymentdomain.ReasonUpstreamTimeout))

	outcome := f.deliver(t, captureCompleted)
	assert.Equal(t, domain.OutcomeRejected, outcome.Kind)
	assert.Equal(t, "upstream_timeout", outcome.Reason)
	assert.False(t, outcome.Acknowledged())

	balance, err := f.balances.GetOrCreate(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, balance.PaidCredits)

	record := f.purchase(t, "abc")
	require.NotNil(t, record)
	assert.Equal(t, "rejected:upstream_timeout", record.Status)
	assert.False(t, record.Verified)

	f.adapter.setVerdict(paymentdomain.Rejected("verification_failure"))
	assert.Equal(t, domain.OutcomeRejected, f.deliver(t, captureCompleted).Kind)

	// a verified retry of the same payment still credits exactly once
	f.adapter.setVerdict(paymentdomain.Verified())
	assert.Equal(t, domain.OutcomeCredited, f.deliver(t, captureCompleted).Kind)
	assert.Equal(t, domain.OutcomeDuplicate, f.deliver(t, captureCompleted).Kind)

	balance, err = f.balances.GetOrCreate(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance.PaidCredits)
}

func TestHandleWebhookIgnoresLifecycleEvents(t *testing.T) {
	f := newFixture(t, adminToken)

	outcome := f.deliver(t, capturePending)
	assert.Equal(t, domain.OutcomeIgnored, outcome.Kind)
	assert.Equal(t, "PAYMENT.CAPTURE.PENDING", outcome.EventType)

	ignored := f.purchase(t, "WH-0")
	require.NotNil(t, ignored)
	assert.Equal(t, "ignored:PAYMENT.CAPTURE.PENDING", ignored.Status)
	assert.True(t, ignored.Verified)

	assert.Equal(t, domain.OutcomeIgnored, f.deliver(t, capturePending).Kind)
	assert.Equal(t, domain.OutcomeCredited, f.deliver(t, captureCompleted).Kind)
}

func TestHandleWebhookLifecycleEventWithoutIDLeavesPaymentOpen(t *testing.T) {
	f := newFixture(t, adminToken)

	assert.Equal(t, domain.OutcomeIgnored, f.deliver(t, pendingNoEventID).Kind)
	assert.Nil(t, f.purchase(t, "abc"))
	ignored := f.purchase(t, "ignored:PAYMENT.CAPTURE.PENDING:abc")
	require.NotNil(t, ignored)
	assert.Equal(t, "ignored:PAYMENT.CAPTURE.PENDING", ignored.Status)

	assert.Equal(t, domain.OutcomeIgnored, f.deliver(t, pendingNoEventID).Kind)
	assert.Equal(t, domain.OutcomeCredited, f.deliver(t, captureCompleted).Kind)
	assert.Equal(t, domain.OutcomeDuplicate, f.deliver(t, captureCompleted).Kind)
}

func TestHandleWebhookMissingUserSettlesForgedDelivery(t *testing.T) {
	f := newFixture(t, adminToken)

	f.adapter.setVerdict(paymentdomain.Rejected(paymentdomain.ReasonHeadersMissing))
	assert.Equal(t, domain.OutcomeRejected, f.deliver(t, captureNoUser).Kind)
	forged := f.purchase(t, "nouser")
	require.NotNil(t, forged)
	assert.False(t, forged.Verified)

	f.adapter.setVerdict(paymentdomain.Verified())
	outcome := f.deliver(t, captureNoUser)
	assert.Equal(t, domain.OutcomeRejected, outcome.Kind)
	assert.Equal(t, "user_id_missing_in_event", outcome.Reason)

	record := f.purchase(t, "nouser")
	require.NotNil(t, record)
	assert.Equal(t, "rejected:user_id_missing_in_event", record.Status)
	assert.True(t, record.Verified)
	assert.True(t, record.Consumed())

	assert.Equal(t, domain.OutcomeDuplicate, f.deliver(t, captureNoUser).Kind)
}

func TestHandleWebhookRejectsMissingUser(t *testing.T) {
	f := newFixture(t, adminToken)

	outcome := f.deliver(t, captureNoUser)
	assert.Equal(t, domain.OutcomeRejected, outcome.Kind)
	assert.Equal(t, "user_id_missing_in_event", outcome.Reason)

	record := f.purchase(t, "nouser")
	require.NotNil(t, record)
	assert.True(t, record.Verified)
	assert.Nil(t, record.UserID)

	assert.Equal(t, domain.OutcomeDuplicate, f.deliver(t, captureNoUser).Kind)
}

func TestHandleWebhookInvalidInput(t *testing.T) {
	f := newFixture(t, adminToken)
	ctx := context.Background()

	_, err := f.svc.HandleWebhook(ctx, "paypal", nil, []byte("{not json"))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)

	_, err = f.svc.HandleWebhook(ctx, "paypal", nil, []byte(`{"event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{}}`))
	assert.ErrorIs(t, err, paymentdomain.ErrMissingProviderRef)

	_, err = f.svc.HandleWebhook(ctx, "adyen", nil, []byte(captureCompleted))
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)

	var rows int64
	require.NoError(t, f.db.Model(&purchasedomain.Record{}).Count(&rows).Error)
	assert.Zero(t, rows)
}

func TestDebitFreeUsesThenInsufficient(t *testing.T) {
	f := newFixture(t, adminToken)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := f.svc.Debit(ctx, " u1 ")
		require.NoError(t, err)
		assert.Equal(t, balancedomain.ModeFree, result.Used)
		assert.Equal(t, "u1", result.UserID)
		assert.Equal(t, int64(2-i), result.Credits.FreeLeft)
	}

	_, err := f.svc.Debit(ctx, "u1")
	assert.ErrorIs(t, err, balancedomain.ErrInsufficientCredit)

	_, err = f.svc.Debit(ctx, "  ")
	assert.ErrorIs(t, err, domain.ErrInvalidUserID)

	stats, err := f.svc.Stats(ctx, adminToken)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.DAUToday)
	assert.Equal(t, int64(3), stats.UsesToday)

	f.clock.Advance(24 * time.Hour)
	result, err := f.svc.Debit(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, balancedomain.ModeFree, result.Used)
}

func TestAdminGrant(t *testing.T) {
	f := newFixture(t, adminToken)
	ctx := context.Background()

	result, err := f.svc.AdminGrant(ctx, domain.GrantRequest{UserID: "u2", AdminToken: adminToken})
	require.NoError(t, err)
	assert.Equal(t, "u2", result.UserID)
	assert.Equal(t, int64(100), result.Credited)
	assert.Equal(t, balancedomain.Credits{FreeLeft: 3, Paid: 100, Total: 103}, result.Credits)

	fifty := int64(50)
	note := strings.Repeat("é", 600)
	result, err = f.svc.AdminGrant(ctx, domain.GrantRequest{UserID: "u2", Credits: &fifty, Note: note, AdminToken: adminToken})
	require.NoError(t, err)
	assert.Equal(t, int64(150), result.Credits.Paid)

	var latest grantdomain.Record
	require.NoError(t, f.db.Where("credits = ?", 50).Take(&latest).Error)
	assert.Equal(t, grantdomain.MaxNoteLength, utf8.RuneCountInString(latest.Note))

	var logged int64
	require.NoError(t, f.db.Model(&auditdomain.Event{}).Where("type = ?", auditdomain.EventLocalGrant).Count(&logged).Error)
	assert.Equal(t, int64(2), logged)
}

func TestAdminGrantRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, adminToken)

	_, err := f.svc.AdminGrant(ctx, domain.GrantRequest{UserID: "u2", AdminToken: "wrong"})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.svc.AdminGrant(ctx, domain.GrantRequest{UserID: " ", AdminToken: adminToken})
	assert.ErrorIs(t, err, domain.ErrInvalidUserID)

	for _, credits := range []int64{0, -5} {
		credits := credits
		_, err = f.svc.AdminGrant(ctx, domain.GrantRequest{UserID: "u2", Credits: &credits, AdminToken: adminToken})
		assert.ErrorIs(t, err, domain.ErrInvalidCredits)
	}

	unconfigured := newFixture(t, "")
	_, err = unconfigured.svc.AdminGrant(ctx, domain.GrantRequest{UserID: "u2", AdminToken: ""})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = unconfigured.svc.Stats(ctx, "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	var grants int64
	require.NoError(t, f.db.Model(&grantdomain.Record{}).Count(&grants).Error)
	assert.Zero(t, grants)
}

func TestGrantAndPurchaseReconcileWithBalance(t *testing.T) {
	f := newFixture(t, adminToken)
	ctx := context.Background()

	twenty := int64(20)
	_, err := f.svc.AdminGrant(ctx, domain.GrantRequest{UserID: "u1", Credits: &twenty, AdminToken: adminToken})
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeCredited, f.deliver(t, captureCompleted).Kind)
	require.Equal(t, domain.OutcomeDuplicate, f.deliver(t, captureCompleted).Kind)

	// drain the free allowance, then spend two paid credits
	for i := 0; i < 5; i++ {
		_, err := f.svc.Debit(ctx, "u1")
		require.NoError(t, err)
	}

	var granted, purchased int64
	require.NoError(t, f.db.Model(&grantdomain.Record{}).Where("user_id = ?", "u1").Select("COALESCE(SUM(credits), 0)").Scan(&granted).Error)
	require.NoError(t, f.db.Model(&purchasedomain.Record{}).Where("user_id = ? AND status = ?", "u1", purchasedomain.StatusCredited).Select("COALESCE(SUM(credits_granted), 0)").Scan(&purchased).Error)

	balance, err := f.balances.GetOrCreate(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, granted+purchased, balance.PaidCredits+2)
}

func TestStats(t *testing.T) {
	f := newFixture(t, adminToken)
	ctx := context.Background()

	require.Equal(t, domain.OutcomeCredited, f.deliver(t, captureCompleted).Kind)
	_, err := f.svc.AdminGrant(ctx, domain.GrantRequest{UserID: "u2", AdminToken: adminToken})
	require.NoError(t, err)
	_, err = f.svc.Debit(ctx, "u3")
	require.NoError(t, err)

	stats, err := f.svc.Stats(ctx, adminToken)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.DAUToday)
	assert.Equal(t, int64(1), stats.UsesToday)
	assert.Equal(t, domain.Counter{Total: 1, Today: 1}, stats.Purchases)
	assert.Equal(t, domain.Counter{Total: 1, Today: 1}, stats.LocalGrants)

	f.clock.Advance(24 * time.Hour)
	stats, err = f.svc.Stats(ctx, adminToken)
	require.NoError(t, err)
	assert.Zero(t, stats.DAUToday)
	assert.Zero(t, stats.UsesToday)
	assert.Equal(t, domain.Counter{Total: 1, Today: 0}, stats.Purchases)
	assert.Equal(t, domain.Counter{Total: 1, Today: 0}, stats.LocalGrants)

	_, err = f.svc.Stats(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}
