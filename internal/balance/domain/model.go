package domain

import (
	"time"
)

const (
	ModeFree = "free"
	ModePaid = "paid"
)

// UserBalance is the per-user metering state. The free window belongs to FreeDate
// and is rolled forward lazily on the first access of a new UTC day.
type UserBalance struct {
	UserID      string    `json:"user_id" gorm:"primaryKey;type:varchar(191)"`
	FreeDate    string    `json:"free_date" gorm:"type:varchar(10);not null"`
	FreeUsed    int64     `json:"free_used" gorm:"not null;default:0"`
	PaidCredits int64     `json:"paid_credits" gorm:"not null;default:0"`
	CreatedAt   time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"not null"`
}

func (UserBalance) TableName() string { return "user_balances" }

// Charge reports which bucket paid for a debit and the balance after it.
type Charge struct {
	Used    string      `json:"used"`
	Balance UserBalance `json:"balance"`
}

// Credits is the client-facing view of a balance.
type Credits struct {
	FreeLeft int64 `json:"freeLeft"`
	Paid     int64 `json:"paid"`
	Total    int64 `json:"total"`
}

// Summary derives the remaining allowance for a balance read on its own FreeDate.
func Summary(balance UserBalance, freeLimit int64) Credits {
	freeLeft := freeLimit - balance.FreeUsed
	if freeLeft < 0 {
		freeLeft = 0
	}
	return Credits{
		FreeLeft: freeLeft,
		Paid:     balance.PaidCredits,
		Total:    freeLeft + balance.PaidCredits,
	}
}
