package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"coursepay/internal/domain"
	"coursepay/internal/domain/model"
	"coursepay/internal/domain/ports/adapter"
	"coursepay/internal/infra/metrics"
)

// RedirectGateway implements the redirect-then-webhook provider family using
// direct HTTP calls: a payment request yields an authority token and a URL
// the customer is sent to; completion arrives later as a signed webhook and
// can also be queried.
//
// Both the card-redirect and the generic-redirect providers speak this
// protocol; they differ only in endpoint and credentials.
type RedirectGateway struct {
	name             model.Provider
	baseURL          string
	callbackURL      string
	merchantKey      string // vault key for the merchant id
	webhookSecretKey string // vault key for the webhook HMAC secret
	creds            CredentialSource
	client           *http.Client
}

func NewCardRedirectGateway(baseURL, callbackURL, merchantKey, webhookSecretKey string, creds CredentialSource) *RedirectGateway {
	return newRedirectGateway(model.ProviderCardRedirect, baseURL, callbackURL, merchantKey, webhookSecretKey, creds)
}

func NewGenericRedirectGateway(baseURL, callbackURL, merchantKey, webhookSecretKey string, creds CredentialSource) *RedirectGateway {
	return newRedirectGateway(model.ProviderGenericRedirect, baseURL, callbackURL, merchantKey, webhookSecretKey, creds)
}

func newRedirectGateway(name model.Provider, baseURL, callbackURL, merchantKey, webhookSecretKey string, creds CredentialSource) *RedirectGateway {
	return &RedirectGateway{
		name:             name,
		baseURL:          baseURL,
		callbackURL:      callbackURL,
		merchantKey:      merchantKey,
		webhookSecretKey: webhookSecretKey,
		creds:            creds,
		client:           &http.Client{Timeout: 15 * time.Second},
	}
}

func (g *RedirectGateway) Name() model.Provider { return g.name }

type redirectRequestResponse struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Authority string `json:"authority"`
}

func (g *RedirectGateway) Initiate(ctx context.Context, a *model.PaymentAttempt) (*adapter.InitiateResult, error) {
	merchantID, err := g.creds.Value(ctx, g.merchantKey, "")
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"merchant_id":  merchantID,
		"amount":       a.Amount.String(),
		"currency":     a.Currency,
		"reference":    a.ID,
		"callback_url": g.callbackURL,
	}
	var resp redirectRequestResponse
	if err := g.post(ctx, "initiate", g.baseURL+"/payment/request", payload, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 100 || resp.Authority == "" {
		return nil, fmt.Errorf("%w: code %d: %s", domain.ErrProviderRejected, resp.Code, resp.Message)
	}

	return &adapter.InitiateResult{
		ProviderRef: resp.Authority,
		RedirectURL: fmt.Sprintf("%s/payment/start/%s", g.baseURL, resp.Authority),
	}, nil
}

type redirectWebhookBody struct {
	Authority string `json:"authority"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

func (g *RedirectGateway) Confirm(ctx context.Context, req adapter.WebhookRequest) (*adapter.Outcome, error) {
	secret, err := g.creds.Value(ctx, g.webhookSecretKey, "")
	if err != nil {
		return nil, err
	}
	if !VerifyWebhookSignature(secret, req.RawBody, req.Signature) {
		metrics.IncWebhook(string(g.name), "invalid_signature")
		return nil, domain.ErrSignatureVerification
	}

	var body redirectWebhookBody
	if err := json.Unmarshal(req.RawBody, &body); err != nil {
		metrics.IncWebhook(string(g.name), "error")
		return nil, fmt.Errorf("%w: malformed webhook body", domain.ErrProviderAmbiguous)
	}
	metrics.IncWebhook(string(g.name), "ok")

	return &adapter.Outcome{
		Status:      mapRedirectStatus(body.Status),
		AttemptID:   body.Reference,
		ProviderRef: body.Authority,
		Message:     body.Message,
	}, nil
}

type redirectStatusResponse struct {
	Code    int    `json:"code"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (g *RedirectGateway) CheckStatus(ctx context.Context, providerRef string) (*adapter.Outcome, error) {
	merchantID, err := g.creds.Value(ctx, g.merchantKey, "")
	if err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"merchant_id": merchantID,
		"authority":   providerRef,
	}
	var resp redirectStatusResponse
	if err := g.post(ctx, "status", g.baseURL+"/payment/status", payload, &resp); err != nil {
		return nil, err
	}
	return &adapter.Outcome{
		Status:      mapRedirectStatus(resp.Status),
		ProviderRef: providerRef,
		Message:     resp.Message,
	}, nil
}

func mapRedirectStatus(s string) adapter.OutcomeStatus {
	switch s {
	case "paid", "succeeded", "verified":
		return adapter.OutcomeSucceeded
	case "failed", "declined", "cancelled", "expired":
		return adapter.OutcomeFailed
	default:
		return adapter.OutcomePending
	}
}

func (g *RedirectGateway) post(ctx context.Context, op, url string, payload interface{}, out interface{}) error {
	start := time.Now()
	defer func() { metrics.ObserveGatewayLatency(string(g.name), op, time.Since(start)) }()

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		metrics.IncGatewayRequest(string(g.name), op, "unavailable")
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.IncGatewayRequest(string(g.name), op, "unavailable")
		return fmt.Errorf("%w: read body: %v", domain.ErrProviderUnavailable, err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		metrics.IncGatewayRequest(string(g.name), op, "invalid_credentials")
		return domain.ErrInvalidCredentials
	case resp.StatusCode >= 500:
		metrics.IncGatewayRequest(string(g.name), op, "unavailable")
		return fmt.Errorf("%w: http %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		metrics.IncGatewayRequest(string(g.name), op, "error")
		return fmt.Errorf("%w: unmarshal response: %v", domain.ErrProviderAmbiguous, err)
	}
	metrics.IncGatewayRequest(string(g.name), op, "ok")
	return nil
}
