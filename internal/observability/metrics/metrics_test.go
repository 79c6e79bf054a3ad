package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifyStorageError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: fmt.Errorf("credit: %w", context.DeadlineExceeded), want: ReasonDeadlineExceeded},
		{name: "gorm_duplicate", err: gorm.ErrDuplicatedKey, want: ReasonUniqueViolation},
		{name: "pg_unique", err: &pgconn.PgError{Code: "23505"}, want: ReasonUniqueViolation},
		{name: "pg_lock", err: &pgconn.PgError{Code: "55P03"}, want: ReasonDBLockTimeout},
		{name: "pg_serialization", err: &pgconn.PgError{Code: "40001"}, want: ReasonSerializationFailure},
		{name: "unknown", err: errors.New("boom"), want: ReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyStorageError(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestWebhookOutcomeCounter(t *testing.T) {
	m, err := NewWithRegisterer(prometheus.NewRegistry(), Config{ServiceName: "test"})
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}

	m.RecordWebhookOutcome(context.Background(), "paypal", "credited")
	m.RecordWebhookOutcome(context.Background(), "paypal", "credited")
	m.RecordWebhookOutcome(context.Background(), "paypal", "duplicate")

	if got := testutil.ToFloat64(m.webhookOutcomes.WithLabelValues("paypal", "credited")); got != 2 {
		t.Fatalf("expected 2 credited outcomes, got %v", got)
	}
	if got := testutil.ToFloat64(m.webhookOutcomes.WithLabelValues("paypal", "duplicate")); got != 1 {
		t.Fatalf("expected 1 duplicate outcome, got %v", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordDebit("free")
	m.AddCreditsGranted("purchase", 100)
	m.RecordStorageError("debit", errors.New("boom"))
}
