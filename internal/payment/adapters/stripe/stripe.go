package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/microsaas/internal/clock"
	"github.com/smallbiznis/microsaas/internal/config"
	paymentdomain "github.com/smallbiznis/microsaas/internal/payment/domain"
)

const signatureHeader = "Stripe-Signature"

var completedTypes = map[string]struct{}{
	"checkout.session.completed": {},
	"payment_intent.succeeded":   {},
}

// Currencies whose amounts carry no minor unit.
var zeroDecimalCurrencies = map[string]struct{}{
	"bif": {}, "clp": {}, "djf": {}, "gnf": {}, "jpy": {}, "kmf": {}, "krw": {}, "mga": {},
	"pyg": {}, "rwf": {}, "ugx": {}, "vnd": {}, "vuv": {}, "xaf": {}, "xof": {}, "xpf": {},
}

type Adapter struct {
	webhookSecret string
	tolerance     time.Duration
	clock         clock.Clock
}

func New(cfg config.StripeConfig, clk clock.Clock) *Adapter {
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &Adapter{
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		tolerance:     tolerance,
		clock:         clk,
	}
}

func (a *Adapter) Provider() string {
	return paymentdomain.ProviderStripe
}

func (a *Adapter) Verify(_ context.Context, headers http.Header, body []byte) paymentdomain.Verdict {
	sigHeader := strings.TrimSpace(headers.Get(signatureHeader))
	if sigHeader == "" {
		return paymentdomain.Rejected(paymentdomain.ReasonHeadersMissing)
	}
	if a.webhookSecret == "" {
		return paymentdomain.Rejected(paymentdomain.ReasonStripeEnvMissing)
	}

	timestamp, signatures, ok := parseSignatureHeader(sigHeader)
	if !ok {
		return paymentdomain.Rejected(paymentdomain.ReasonSignatureMismatch)
	}
	signedAt, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return paymentdomain.Rejected(paymentdomain.ReasonSignatureMismatch)
	}

	expected := Sign(a.webhookSecret, timestamp, body)
	matched := false
	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			matched = true
		}
	}
	if !matched {
		return paymentdomain.Rejected(paymentdomain.ReasonSignatureMismatch)
	}

	age := a.clock.Now().Sub(time.Unix(signedAt, 0))
	if age < 0 {
		age = -age
	}
	if age > a.tolerance {
		return paymentdomain.Rejected(paymentdomain.ReasonTimestampOutOfTolerance)
	}
	return paymentdomain.Verified()
}

// Sign computes the v1 signature Stripe sends for body at timestamp.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object stripeObject `json:"object"`
	} `json:"data"`
}

type stripeObject struct {
	ID                string            `json:"id"`
	PaymentIntent     string            `json:"payment_intent"`
	PaymentStatus     string            `json:"payment_status"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
	AmountTotal       *int64            `json:"amount_total"`
	AmountReceived    *int64            `json:"amount_received"`
	Amount            *int64            `json:"amount"`
	Currency          string            `json:"currency"`
}

func (a *Adapter) Parse(body []byte) (*paymentdomain.PaymentEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	object := event.Data.Object
	eventType := strings.TrimSpace(event.Type)
	ref := strings.TrimSpace(object.ID)
	// checkout sessions and their payment intent describe one payment
	if eventType == "checkout.session.completed" && strings.TrimSpace(object.PaymentIntent) != "" {
		ref = strings.TrimSpace(object.PaymentIntent)
	}
	if ref == "" {
		return nil, paymentdomain.ErrMissingProviderRef
	}

	userID := strings.TrimSpace(object.ClientReferenceID)
	if userID == "" {
		userID = strings.TrimSpace(object.Metadata["user_id"])
	}

	_, completed := completedTypes[eventType]
	if status := strings.TrimSpace(object.PaymentStatus); status != "" && status != "paid" {
		completed = false
	}

	currency := strings.ToLower(strings.TrimSpace(object.Currency))
	return &paymentdomain.PaymentEvent{
		Provider:    paymentdomain.ProviderStripe,
		ProviderRef: ref,
		EventID:     strings.TrimSpace(event.ID),
		EventType:   eventType,
		UserID:      userID,
		Amount:      minorUnits(object, currency),
		Currency:    strings.ToUpper(currency),
		Completed:   completed,
	}, nil
}

func minorUnits(object stripeObject, currency string) decimal.NullDecimal {
	var raw *int64
	for _, candidate := range []*int64{object.AmountReceived, object.AmountTotal, object.Amount} {
		if candidate != nil {
			raw = candidate
			break
		}
	}
	if raw == nil {
		return decimal.NullDecimal{}
	}
	exp := int32(-2)
	if _, ok := zeroDecimalCurrencies[currency]; ok {
		exp = 0
	}
	return decimal.NewNullDecimal(decimal.New(*raw, exp))
}

func parseSignatureHeader(header string) (string, []string, bool) {
	var timestamp string
	signatures := []string{}
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "t":
			timestamp = strings.TrimSpace(value)
		case "v1":
			signatures = append(signatures, strings.TrimSpace(value))
		}
	}
	return timestamp, signatures, timestamp != "" && len(signatures) > 0
}
