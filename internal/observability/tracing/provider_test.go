package tracing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsUserData(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/use"),
		attribute.String("user_id", "u1"),
		attribute.String("prompt", "secret"),
	)
	assert.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
}

func TestSafeErrorKeepsOutermostMessage(t *testing.T) {
	err := fmt.Errorf("credit purchase: %w", errors.New("payload had card 4242"))
	assert.EqualError(t, SafeError(err), "credit purchase")
	assert.Nil(t, SafeError(nil))
}

func TestNewProviderDisabled(t *testing.T) {
	provider, err := NewProvider(nil, Config{ServiceName: "micro-saas"}, nil)
	assert.NoError(t, err)
	assert.NotNil(t, provider)
}
