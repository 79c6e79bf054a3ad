package paypal

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/microsaas/internal/payment/domain"
)

type looseString string

// UnmarshalJSON accepts strings and numbers; other JSON kinds decode to empty.
func (s *looseString) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = looseString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err == nil {
		*s = looseString(num.String())
		return nil
	}
	*s = ""
	return nil
}

type money struct {
	Value        string `json:"value"`
	CurrencyCode string `json:"currency_code"`
	Total        string `json:"total"`
	Currency     string `json:"currency"`
}

type purchaseUnit struct {
	CustomID looseString `json:"custom_id"`
	Amount   *money      `json:"amount"`
}

type paypalEvent struct {
	ID        string      `json:"id"`
	EventType string      `json:"event_type"`
	UserID    looseString `json:"user_id"`
	Resource  struct {
		ID            string         `json:"id"`
		CustomID      looseString    `json:"custom_id"`
		Amount        *money         `json:"amount"`
		PurchaseUnits []purchaseUnit `json:"purchase_units"`
	} `json:"resource"`
}

func (a *Adapter) Parse(body []byte) (*paymentdomain.PaymentEvent, error) {
	var event paypalEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	ref := strings.TrimSpace(event.Resource.ID)
	if ref == "" {
		ref = strings.TrimSpace(event.ID)
	}
	if ref == "" {
		return nil, paymentdomain.ErrMissingProviderRef
	}

	userID := strings.TrimSpace(string(event.UserID))
	if userID == "" {
		userID = strings.TrimSpace(string(event.Resource.CustomID))
	}

	amount := event.Resource.Amount
	if len(event.Resource.PurchaseUnits) > 0 {
		unit := event.Resource.PurchaseUnits[0]
		if userID == "" {
			userID = strings.TrimSpace(string(unit.CustomID))
		}
		if amount == nil {
			amount = unit.Amount
		}
	}

	eventType := strings.TrimSpace(event.EventType)
	_, completed := completedTypes[strings.ToUpper(eventType)]

	parsed := &paymentdomain.PaymentEvent{
		Provider:    paymentdomain.ProviderPayPal,
		ProviderRef: ref,
		EventID:     strings.TrimSpace(event.ID),
		EventType:   eventType,
		UserID:      userID,
		Completed:   completed,
	}
	if amount != nil {
		parsed.Amount, parsed.Currency = amount.decimal()
	}
	return parsed, nil
}

func (m money) decimal() (decimal.NullDecimal, string) {
	value, currency := m.Value, m.CurrencyCode
	if value == "" {
		value = m.Total
	}
	if currency == "" {
		currency = m.Currency
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))

	parsed, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.NullDecimal{}, currency
	}
	return decimal.NewNullDecimal(parsed), currency
}
