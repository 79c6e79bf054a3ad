package domain

import (
	"context"
	"errors"
	"net/http"

	balancedomain "github.com/smallbiznis/microsaas/internal/balance/domain"
)

var (
	ErrInvalidUserID    = errors.New("invalid_user_id")
	ErrInvalidCredits   = errors.New("invalid_credits")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrProviderNotFound = errors.New("provider_not_found")
)

type OutcomeKind string

const (
	OutcomeRejected  OutcomeKind = "rejected"
	OutcomeIgnored   OutcomeKind = "ignored"
	OutcomeDuplicate OutcomeKind = "duplicate"
	OutcomeCredited  OutcomeKind = "credited"
)

// Outcome is the terminal state of one webhook delivery.
type Outcome struct {
	Kind        OutcomeKind
	Provider    string
	ProviderRef string
	Reason      string
	EventType   string
	UserID      string
	Credits     int64
	Balance     *balancedomain.Credits
}

// Acknowledged reports whether the provider should stop retrying the delivery.
func (o Outcome) Acknowledged() bool {
	return o.Kind != OutcomeRejected
}

// CreditsView is the balance summary returned to clients.
type CreditsView struct {
	UserID string `json:"user_id"`
	balancedomain.Credits
	FreeDailyLimit  int64 `json:"freeDailyLimit"`
	PaidPackCredits int64 `json:"paidPackCredits"`
}

type DebitResult struct {
	UserID  string
	Used    string
	Credits balancedomain.Credits
}

type GrantRequest struct {
	UserID     string
	Credits    *int64
	Note       string
	AdminToken string
}

type GrantResult struct {
	UserID   string                `json:"user_id"`
	Credited int64                 `json:"credited"`
	Credits  balancedomain.Credits `json:"credits"`
}

type Counter struct {
	Total int64 `json:"total"`
	Today int64 `json:"today"`
}

type Stats struct {
	DAUToday    int64   `json:"dau_today"`
	UsesToday   int64   `json:"uses_today"`
	Purchases   Counter `json:"purchases"`
	LocalGrants Counter `json:"local_grants"`
}

type Service interface {
	HandleWebhook(ctx context.Context, provider string, headers http.Header, body []byte) (Outcome, error)
	Debit(ctx context.Context, userID string) (DebitResult, error)
	Credits(ctx context.Context, userID string) (CreditsView, error)
	AdminGrant(ctx context.Context, req GrantRequest) (GrantResult, error)
	Stats(ctx context.Context, adminToken string) (Stats, error)
}
