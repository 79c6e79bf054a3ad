package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	EventUse              = "use"
	EventLocalGrant       = "local_grant"
	EventPurchaseCredited = "purchase_credited"
)

// Event is an append-only activity entry. Balances never read it back.
type Event struct {
	ID        snowflake.ID      `json:"id" gorm:"primaryKey"`
	Type      string            `json:"type" gorm:"type:varchar(64);not null;index:ix_events_type_created,priority:1"`
	UserID    *string           `json:"user_id,omitempty" gorm:"type:varchar(191)"`
	Metadata  datatypes.JSONMap `json:"metadata"`
	CreatedAt time.Time         `json:"created_at" gorm:"not null;index;index:ix_events_type_created,priority:2"`
}

func (Event) TableName() string { return "events" }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *Event) error
	CountDistinctUsers(ctx context.Context, db *gorm.DB, since, until time.Time) (int64, error)
	CountByType(ctx context.Context, db *gorm.DB, eventType string, since, until time.Time) (int64, error)
}

type Service interface {
	Record(ctx context.Context, eventType string, userID string, metadata map[string]any) error
	CountDistinctUsers(ctx context.Context, since, until time.Time) (int64, error)
	CountByType(ctx context.Context, eventType string, since, until time.Time) (int64, error)
}

var (
	ErrInvalidEventType = errors.New("invalid_event_type")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
)
