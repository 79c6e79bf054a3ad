//go:build integration

package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/microsaas/internal/credit/domain"
	"github.com/smallbiznis/microsaas/internal/migration"
	"github.com/smallbiznis/microsaas/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormpostgres "gorm.io/driver/postgres"
	gormlogger "gorm.io/gorm/logger"
)

func TestConcurrentDeliveriesOnPostgres(t *testing.T) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("microsaas"),
		postgres.WithUsername("microsaas"),
		postgres.WithPassword("microsaas"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(ctx))
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	conn, err := db.Open(gormpostgres.Open(dsn), gormlogger.Silent)
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(16)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, migration.RunMigrations(sqlDB))

	f := buildFixture(t, conn, adminToken)

	const deliveries = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[domain.OutcomeKind]int{}
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := f.svc.HandleWebhook(ctx, "paypal", nil, []byte(captureCompleted))
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

	balance, err := f.balances.GetOrCreate(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance.PaidCredits)

	// debits racing on postgres row locks never overspend
	var debited sync.WaitGroup
	var charged int64
	for i := 0; i < 150; i++ {
		debited.Add(1)
		go func() {
			defer debited.Done()
			if _, err := f.svc.Debit(ctx, "u1"); err == nil {
				mu.Lock()
				charged++
				mu.Unlock()
			}
		}()
	}
	debited.Wait()
	assert.Equal(t, int64(103), charged)
}
