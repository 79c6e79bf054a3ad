package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/microsaas/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.Event) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) CountDistinctUsers(ctx context.Context, db *gorm.DB, since, until time.Time) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(DISTINCT user_id)
		 FROM events
		 WHERE user_id IS NOT NULL AND user_id <> ''
		   AND created_at >= ? AND created_at < ?`,
		since,
		until,
	).Scan(&count).Error
	return count, err
}

func (r *repo) CountByType(ctx context.Context, db *gorm.DB, eventType string, since, until time.Time) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.Event{}).
		Where("type = ? AND created_at >= ? AND created_at < ?", eventType, since, until).
		Count(&count).Error
	return count, err
}
