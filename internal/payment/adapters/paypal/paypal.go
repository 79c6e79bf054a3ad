package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/microsaas/internal/config"
	paymentdomain "github.com/smallbiznis/microsaas/internal/payment/domain"
)

const (
	headerTransmissionID   = "PAYPAL-TRANSMISSION-ID"
	headerTransmissionTime = "PAYPAL-TRANSMISSION-TIME"
	headerCertURL          = "PAYPAL-CERT-URL"
	headerAuthAlgo         = "PAYPAL-AUTH-ALGO"
	headerTransmissionSig  = "PAYPAL-TRANSMISSION-SIG"

	verificationSuccess = "SUCCESS"
	maxResponseBytes    = 1 << 20
)

var completedTypes = map[string]struct{}{
	"PAYMENT.CAPTURE.COMPLETED": {},
	"CHECKOUT.ORDER.COMPLETED":  {},
	"PAYMENT.SALE.COMPLETED":    {},
}

// Adapter verifies PayPal webhooks through the notifications API.
type Adapter struct {
	cfg     config.PayPalConfig
	timeout time.Duration
	client  *http.Client
}

func New(cfg config.PayPalConfig, timeout time.Duration, client *http.Client) *Adapter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{}
	}
	cfg.APIBase = strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")
	return &Adapter{cfg: cfg, timeout: timeout, client: client}
}

func (a *Adapter) Provider() string {
	return paymentdomain.ProviderPayPal
}

// Configured reports whether deliveries can be verified at all.
func (a *Adapter) Configured() bool {
	return a.cfg.Configured()
}

type verifyRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

type verifyResponse struct {
	VerificationStatus string `json:"verification_status"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// Verify exchanges the service credentials for a bearer token and asks PayPal
// to validate the transmission. Only an explicit SUCCESS verdict passes.
func (a *Adapter) Verify(ctx context.Context, headers http.Header, body []byte) paymentdomain.Verdict {
	req := verifyRequest{
		AuthAlgo:         strings.TrimSpace(headers.Get(headerAuthAlgo)),
		CertURL:          strings.TrimSpace(headers.Get(headerCertURL)),
		TransmissionID:   strings.TrimSpace(headers.Get(headerTransmissionID)),
		TransmissionSig:  strings.TrimSpace(headers.Get(headerTransmissionSig)),
		TransmissionTime: strings.TrimSpace(headers.Get(headerTransmissionTime)),
		WebhookID:        a.cfg.WebhookID,
		WebhookEvent:     json.RawMessage(body),
	}
	if req.AuthAlgo == "" || req.CertURL == "" || req.TransmissionID == "" ||
		req.TransmissionSig == "" || req.TransmissionTime == "" {
		return paymentdomain.Rejected(paymentdomain.ReasonHeadersMissing)
	}
	if !a.cfg.Configured() {
		return paymentdomain.Rejected(paymentdomain.ReasonPayPalEnvMissing)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	token, err := a.accessToken(ctx)
	if err != nil {
		return rejection(ctx, paymentdomain.ReasonTokenRequestFailed)
	}

	status, err := a.verifySignature(ctx, token, req)
	if err != nil {
		return rejection(ctx, paymentdomain.ReasonVerifyRequestFailed)
	}
	if status != verificationSuccess {
		if status == "" {
			status = "unknown"
		}
		return paymentdomain.Rejected("verification_" + strings.ToLower(status))
	}
	return paymentdomain.Verified()
}

func rejection(ctx context.Context, reason string) paymentdomain.Verdict {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return paymentdomain.Rejected(paymentdomain.ReasonUpstreamTimeout)
	}
	return paymentdomain.Rejected(reason)
}

func (a *Adapter) accessToken(ctx context.Context) (string, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.APIBase+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	httpReq.SetBasicAuth(a.cfg.ClientID, a.cfg.ClientSecret)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")

	var out tokenResponse
	if err := a.do(httpReq, &out); err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return "", errors.New("token request: empty access token")
	}
	return out.AccessToken, nil
}

func (a *Adapter) verifySignature(ctx context.Context, token string, payload verifyRequest) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.APIBase+"/v1/notifications/verify-webhook-signature", bytes.NewReader(encoded))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	var out verifyResponse
	if err := a.do(httpReq, &out); err != nil {
		return "", fmt.Errorf("verify request: %w", err)
	}
	return strings.ToUpper(strings.TrimSpace(out.VerificationStatus)), nil
}

func (a *Adapter) do(req *http.Request, out any) error {
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.Unmarshal(data, out)
}
