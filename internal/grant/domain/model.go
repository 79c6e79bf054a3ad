package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// MaxNoteLength bounds the operator note stored with a grant, in runes.
const MaxNoteLength = 500

// Record is one administrator credit grant. Records are never updated or deleted.
type Record struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID    string       `json:"user_id" gorm:"type:varchar(191);not null;index"`
	Credits   int64        `json:"credits" gorm:"not null"`
	Note      string       `json:"note" gorm:"type:varchar(2000);not null;default:''"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null;index"`
}

func (Record) TableName() string { return "grants" }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *Record) error
	Count(ctx context.Context, db *gorm.DB, since *time.Time) (int64, error)
}
