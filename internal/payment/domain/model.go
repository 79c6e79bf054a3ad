package domain

import (
	"context"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"
)

const (
	ProviderPayPal = "paypal"
	ProviderStripe = "stripe"
)

// Verification failure reasons. Upstream verdicts are reported as "verification_<status>".
const (
	ReasonHeadersMissing          = "headers_missing"
	ReasonPayPalEnvMissing        = "paypal_env_missing"
	ReasonStripeEnvMissing        = "stripe_env_missing"
	ReasonTokenRequestFailed      = "token_request_failed"
	ReasonVerifyRequestFailed     = "verify_request_failed"
	ReasonUpstreamTimeout         = "upstream_timeout"
	ReasonSignatureMismatch       = "signature_mismatch"
	ReasonTimestampOutOfTolerance = "timestamp_out_of_tolerance"
)

var (
	ErrInvalidPayload       = errors.New("invalid_payload")
	ErrMissingProviderRef   = errors.New("missing_provider_ref")
	ErrProviderNotFound     = errors.New("provider_not_found")
	ErrUserIDMissingInEvent = errors.New("user_id_missing_in_event")
)

// Verdict is the outcome of authenticating one webhook delivery.
type Verdict struct {
	OK     bool
	Reason string
}

func Verified() Verdict { return Verdict{OK: true} }

func Rejected(reason string) Verdict { return Verdict{Reason: reason} }

// PaymentEvent is the provider-neutral view of a webhook payload.
type PaymentEvent struct {
	Provider    string
	ProviderRef string
	EventID     string
	EventType   string
	UserID      string
	Amount      decimal.NullDecimal
	Currency    string
	// Completed marks event types that settle a payment and may be credited.
	Completed bool
}

// Adapter authenticates and decodes webhooks of one payment provider.
// Verify must fail closed: any error talking to the provider is a rejection.
type Adapter interface {
	Provider() string
	Verify(ctx context.Context, headers http.Header, body []byte) Verdict
	Parse(body []byte) (*PaymentEvent, error)
}
