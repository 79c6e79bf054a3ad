package payment

import (
	"errors"
	"net/http"

	"github.com/smallbiznis/microsaas/internal/audit/masking"
	"github.com/smallbiznis/microsaas/internal/clock"
	"github.com/smallbiznis/microsaas/internal/config"
	"github.com/smallbiznis/microsaas/internal/payment/adapters"
	"github.com/smallbiznis/microsaas/internal/payment/adapters/paypal"
	"github.com/smallbiznis/microsaas/internal/payment/adapters/stripe"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.adapters",
	fx.Provide(NewRegistry),
)

var ErrVerifierNotConfigured = errors.New("payment verifier not configured")

// NewRegistry wires the provider adapters. An unconfigured PayPal verifier
// rejects every delivery with paypal_env_missing unless RequireVerifier
// turns it into a startup error.
func NewRegistry(cfg config.Config, clk clock.Clock, log *zap.Logger) (*adapters.Registry, error) {
	log = log.Named("payment.adapters")
	payments := cfg.Payments

	pp := paypal.New(payments.PayPal, payments.VerifyTimeout, &http.Client{})
	if pp.Configured() {
		log.Info("paypal webhook verification enabled",
			zap.String("api_base", payments.PayPal.APIBase),
			zap.String("client_id", masking.MaskSecret(payments.PayPal.ClientID)),
		)
	} else {
		if payments.RequireVerifier {
			return nil, ErrVerifierNotConfigured
		}
		log.Warn("paypal webhook verification not configured; deliveries will be rejected with paypal_env_missing")
	}

	st := stripe.New(payments.Stripe, clk)
	if !payments.Stripe.Configured() {
		log.Info("stripe webhook secret not set; stripe deliveries will be rejected")
	}

	registry := adapters.NewRegistry(pp, st)
	log.Info("payment providers registered", zap.Strings("providers", registry.Providers()))
	return registry, nil
}
