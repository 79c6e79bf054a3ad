package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/microsaas/internal/purchase/domain"
	"github.com/smallbiznis/microsaas/internal/purchase/repository"
	"github.com/smallbiznis/microsaas/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func newRecord(t *testing.T, node *snowflake.Node, ref, status string, verified bool) *domain.Record {
	t.Helper()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	user := "u1"
	return &domain.Record{
		ID:          node.Generate(),
		Provider:    "paypal",
		ProviderRef: ref,
		EventID:     "WH-1",
		EventType:   "PAYMENT.CAPTURE.COMPLETED",
		UserID:      &user,
		Status:      status,
		Amount:      decimal.NewNullDecimal(decimal.RequireFromString("9.99")),
		Currency:    "USD",
		Verified:    verified,
		RawPayload:  datatypes.JSON(`{"id":"WH-1"}`),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestRecordSeenIsInsertOnce(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	repo := repository.Provide()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	inserted, err := repo.RecordSeen(ctx, db, newRecord(t, node, "abc", domain.StatusIgnored("PAYMENT.CAPTURE.PENDING"), true))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.RecordSeen(ctx, db, newRecord(t, node, "abc", domain.StatusRejected("headers_missing"), false))
	require.NoError(t, err)
	assert.False(t, inserted)

	stored, err := repo.Find(ctx, db, "paypal", "abc")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "ignored:PAYMENT.CAPTURE.PENDING", stored.Status)
	assert.True(t, stored.Amount.Valid)
	assert.Equal(t, "9.99", stored.Amount.Decimal.StringFixed(2))
}

func TestMarkCreditedPromotesUnverifiedRejection(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	repo := repository.Provide()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	_, err = repo.RecordSeen(ctx, db, newRecord(t, node, "abc", domain.StatusRejected("upstream_timeout"), false))
	require.NoError(t, err)

	credited := newRecord(t, node, "abc", "", true)
	credited.CreditsGranted = 100
	ok, err := repo.MarkCredited(ctx, db, credited)
	require.NoError(t, err)
	assert.True(t, ok)

	again := newRecord(t, node, "abc", "", true)
	ok, err = repo.MarkCredited(ctx, db, again)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := repo.Find(ctx, db, "paypal", "abc")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCredited, stored.Status)
	assert.True(t, stored.Verified)
	assert.Equal(t, int64(100), stored.CreditsGranted)
	assert.True(t, stored.Consumed())
}

func TestMarkCreditedKeepsVerifiedRejection(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	repo := repository.Provide()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	_, err = repo.RecordSeen(ctx, db, newRecord(t, node, "abc", domain.StatusRejected("user_id_missing_in_event"), true))
	require.NoError(t, err)

	ok, err := repo.MarkCredited(ctx, db, newRecord(t, node, "abc", "", true))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMarkRejectedSettlesUnverifiedRejection(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	repo := repository.Provide()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	_, err = repo.RecordSeen(ctx, db, newRecord(t, node, "abc", domain.StatusRejected("headers_missing"), false))
	require.NoError(t, err)

	ok, err := repo.MarkRejected(ctx, db, newRecord(t, node, "abc", "", true), "user_id_missing_in_event")
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := repo.Find(ctx, db, "paypal", "abc")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected("user_id_missing_in_event"), stored.Status)
	assert.True(t, stored.Verified)
	assert.True(t, stored.Consumed())

	ok, err = repo.MarkRejected(ctx, db, newRecord(t, node, "abc", "", true), "user_id_missing_in_event")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.MarkCredited(ctx, db, newRecord(t, node, "abc", "", true))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCountCredited(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	repo := repository.Provide()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	old := newRecord(t, node, "old", "", true)
	old.CreatedAt = old.CreatedAt.AddDate(0, 0, -2)
	old.UpdatedAt = old.CreatedAt
	_, err = repo.MarkCredited(ctx, db, old)
	require.NoError(t, err)
	_, err = repo.MarkCredited(ctx, db, newRecord(t, node, "new", "", true))
	require.NoError(t, err)
	_, err = repo.RecordSeen(ctx, db, newRecord(t, node, "ignored", domain.StatusIgnored("X"), true))
	require.NoError(t, err)

	total, err := repo.CountCredited(ctx, db, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	today, err := repo.CountCredited(ctx, db, &since)
	require.NoError(t, err)
	assert.Equal(t, int64(1), today)
}

func TestConsumed(t *testing.T) {
	assert.False(t, domain.Record{Status: "rejected:verification_failure", Verified: false}.Consumed())
	assert.True(t, domain.Record{Status: "rejected:user_id_missing_in_event", Verified: true}.Consumed())
	assert.True(t, domain.Record{Status: "ignored:PAYMENT.CAPTURE.PENDING", Verified: true}.Consumed())
	assert.True(t, domain.Record{Status: domain.StatusCredited, Verified: true}.Consumed())
}
