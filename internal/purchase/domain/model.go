package domain

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StatusCredited = "credited"

	rejectedPrefix = "rejected:"
	ignoredPrefix  = "ignored:"
)

func StatusRejected(reason string) string { return rejectedPrefix + reason }

func StatusIgnored(eventType string) string { return ignoredPrefix + eventType }

// Record is the ledger row for one provider payment, keyed by (Provider, ProviderRef).
type Record struct {
	ID             snowflake.ID        `json:"id" gorm:"primaryKey"`
	Provider       string              `json:"provider" gorm:"type:varchar(32);not null;uniqueIndex:ux_purchases_provider_ref,priority:1"`
	ProviderRef    string              `json:"provider_ref" gorm:"type:varchar(191);not null;uniqueIndex:ux_purchases_provider_ref,priority:2"`
	EventID        string              `json:"event_id" gorm:"type:varchar(191)"`
	EventType      string              `json:"event_type" gorm:"type:varchar(128)"`
	UserID         *string             `json:"user_id,omitempty" gorm:"type:varchar(191);index"`
	Status         string              `json:"status" gorm:"type:varchar(191);not null;index"`
	Amount         decimal.NullDecimal `json:"amount" gorm:"type:varchar(32)"`
	Currency       string              `json:"currency" gorm:"type:varchar(8)"`
	CreditsGranted int64               `json:"credits_granted" gorm:"not null;default:0"`
	Verified       bool                `json:"verified" gorm:"not null;default:false"`
	RawPayload     datatypes.JSON      `json:"raw_payload"`
	CreatedAt      time.Time           `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time           `json:"updated_at" gorm:"not null"`
}

func (Record) TableName() string { return "purchases" }

// Consumed reports whether the row settles its key. Only rows rejected because
// the delivery could not be verified leave the key open for a verified retry.
func (r Record) Consumed() bool {
	return r.Verified || !strings.HasPrefix(r.Status, rejectedPrefix)
}

type Repository interface {
	// RecordSeen inserts record unless its key already exists.
	RecordSeen(ctx context.Context, db *gorm.DB, record *Record) (bool, error)
	// MarkCredited inserts record as credited or promotes an unverified rejection.
	// An unverified rejection is the one terminal status that may still change:
	// it proves nothing about the payment, so a verified delivery replaces it.
	// It reports false when the key is already settled.
	MarkCredited(ctx context.Context, db *gorm.DB, record *Record) (bool, error)
	// MarkRejected settles the key as a verified rejection, replacing an
	// unverified one when present. It reports false when the key is already settled.
	MarkRejected(ctx context.Context, db *gorm.DB, record *Record, reason string) (bool, error)
	Find(ctx context.Context, db *gorm.DB, provider, providerRef string) (*Record, error)
	CountCredited(ctx context.Context, db *gorm.DB, since *time.Time) (int64, error)
}
