package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/microsaas/internal/grant/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.Record) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO grants (id, user_id, credits, note, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		record.ID,
		record.UserID,
		record.Credits,
		record.Note,
		record.CreatedAt,
	).Error
}

func (r *repo) Count(ctx context.Context, db *gorm.DB, since *time.Time) (int64, error) {
	var count int64
	stmt := db.WithContext(ctx).Model(&domain.Record{})
	if since != nil {
		stmt = stmt.Where("created_at >= ?", since.UTC())
	}
	err := stmt.Count(&count).Error
	return count, err
}
