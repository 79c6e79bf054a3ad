package repository

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/microsaas/internal/balance/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Ensure(ctx context.Context, db *gorm.DB, userID, today string, now time.Time) error {
	row := domain.UserBalance{
		UserID:    userID,
		FreeDate:  today,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
}

func (r *repo) RollWindow(ctx context.Context, db *gorm.DB, userID, today string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE user_balances
		 SET free_date = ?, free_used = 0, updated_at = ?
		 WHERE user_id = ? AND free_date <> ?`,
		today,
		now,
		userID,
		today,
	).Error
}

func (r *repo) Get(ctx context.Context, db *gorm.DB, userID string) (*domain.UserBalance, error) {
	var item domain.UserBalance
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) ConsumeFree(ctx context.Context, db *gorm.DB, userID, today string, limit int64, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE user_balances
		 SET free_used = free_used + 1, updated_at = ?
		 WHERE user_id = ? AND free_date = ? AND free_used < ?`,
		now,
		userID,
		today,
		limit,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ConsumePaid(ctx context.Context, db *gorm.DB, userID string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE user_balances
		 SET paid_credits = paid_credits - 1, updated_at = ?
		 WHERE user_id = ? AND paid_credits > 0`,
		now,
		userID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) AddPaid(ctx context.Context, db *gorm.DB, userID string, amount int64, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE user_balances
		 SET paid_credits = paid_credits + ?, updated_at = ?
		 WHERE user_id = ?`,
		amount,
		now,
		userID,
	).Error
}
