package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Repository performs single-statement balance mutations. Every method takes the
// handle to run on so callers can compose them inside a transaction.
type Repository interface {
	Ensure(ctx context.Context, db *gorm.DB, userID, today string, now time.Time) error
	RollWindow(ctx context.Context, db *gorm.DB, userID, today string, now time.Time) error
	Get(ctx context.Context, db *gorm.DB, userID string) (*UserBalance, error)
	ConsumeFree(ctx context.Context, db *gorm.DB, userID, today string, limit int64, now time.Time) (bool, error)
	ConsumePaid(ctx context.Context, db *gorm.DB, userID string, now time.Time) (bool, error)
	AddPaid(ctx context.Context, db *gorm.DB, userID string, amount int64, now time.Time) error
}

type Service interface {
	GetOrCreate(ctx context.Context, userID string) (UserBalance, error)
	TryDebit(ctx context.Context, userID string) (Charge, error)
	Credit(ctx context.Context, userID string, amount int64) (UserBalance, error)
	// WithTx binds the service to tx for composition with other writes.
	WithTx(tx *gorm.DB) Service
}
