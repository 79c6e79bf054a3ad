package repository

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/microsaas/internal/purchase/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) RecordSeen(ctx context.Context, db *gorm.DB, record *domain.Record) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(record)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkCredited(ctx context.Context, db *gorm.DB, record *domain.Record) (bool, error) {
	record.Status = domain.StatusCredited
	record.Verified = true
	return r.settle(ctx, db, record)
}

func (r *repo) MarkRejected(ctx context.Context, db *gorm.DB, record *domain.Record, reason string) (bool, error) {
	record.Status = domain.StatusRejected(reason)
	record.Verified = true
	return r.settle(ctx, db, record)
}

// settle inserts a verified record, or takes over the row of an unverified
// rejection for the same key. Verified rows are never overwritten.
func (r *repo) settle(ctx context.Context, db *gorm.DB, record *domain.Record) (bool, error) {
	inserted, err := r.RecordSeen(ctx, db, record)
	if err != nil || inserted {
		return inserted, err
	}

	res := db.WithContext(ctx).Exec(
		`UPDATE purchases
		 SET status = ?, verified = ?, user_id = ?, event_id = ?, event_type = ?,
			amount = ?, currency = ?, credits_granted = ?, raw_payload = ?, updated_at = ?
		 WHERE provider = ? AND provider_ref = ?
		   AND verified = ? AND status LIKE ?`,
		record.Status,
		true,
		record.UserID,
		record.EventID,
		record.EventType,
		record.Amount,
		record.Currency,
		record.CreditsGranted,
		record.RawPayload,
		record.UpdatedAt,
		record.Provider,
		record.ProviderRef,
		false,
		domain.StatusRejected("%"),
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, provider, providerRef string) (*domain.Record, error) {
	var item domain.Record
	err := db.WithContext(ctx).
		Where("provider = ? AND provider_ref = ?", provider, providerRef).
		Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) CountCredited(ctx context.Context, db *gorm.DB, since *time.Time) (int64, error) {
	var count int64
	stmt := db.WithContext(ctx).Model(&domain.Record{}).Where("status = ?", domain.StatusCredited)
	if since != nil {
		// promoted rows keep their first-seen created_at; updated_at is when they were credited
		stmt = stmt.Where("updated_at >= ?", since.UTC())
	}
	err := stmt.Count(&count).Error
	return count, err
}
