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

// MobilePushGateway implements the mobile-push provider: initiation fires a
// confirmation prompt to the customer's handset, so the customer is never
// redirected anywhere. The outcome is either pushed over a webhook or
// pulled through status polls while the prompt is pending.
type MobilePushGateway struct {
	baseURL          string
	shortCode        string
	consumerKeyName  string // vault key for the API credential
	webhookSecretKey string // vault key for the webhook HMAC secret
	creds            CredentialSource
	client           *http.Client
}

func NewMobilePushGateway(baseURL, shortCode, consumerKeyName, webhookSecretKey string, creds CredentialSource) *MobilePushGateway {
	return &MobilePushGateway{
		baseURL:          baseURL,
		shortCode:        shortCode,
		consumerKeyName:  consumerKeyName,
		webhookSecretKey: webhookSecretKey,
		creds:            creds,
		client:           &http.Client{Timeout: 15 * time.Second},
	}
}

func (g *MobilePushGateway) Name() model.Provider { return model.ProviderMobilePush }

type pushInitiateResponse struct {
	ResponseCode string `json:"response_code"`
	CheckoutID   string `json:"checkout_id"`
	Description  string `json:"description"`
}

func (g *MobilePushGateway) Initiate(ctx context.Context, a *model.PaymentAttempt) (*adapter.InitiateResult, error) {
	payload := map[string]interface{}{
		"short_code": g.shortCode,
		"amount":     a.Amount.String(),
		"currency":   a.Currency,
		"reference":  a.ID,
	}
	var resp pushInitiateResponse
	if err := g.post(ctx, "initiate", g.baseURL+"/push/request", payload, &resp); err != nil {
		return nil, err
	}
	if resp.ResponseCode != "0" || resp.CheckoutID == "" {
		return nil, fmt.Errorf("%w: code %s: %s", domain.ErrProviderRejected, resp.ResponseCode, resp.Description)
	}
	// The customer now has a prompt on their handset. Nothing to redirect to.
	return &adapter.InitiateResult{ProviderRef: resp.CheckoutID}, nil
}

type pushWebhookBody struct {
	CheckoutID string `json:"checkout_id"`
	Reference  string `json:"reference"`
	ResultCode int    `json:"result_code"`
	ResultDesc string `json:"result_desc"`
}

func (g *MobilePushGateway) Confirm(ctx context.Context, req adapter.WebhookRequest) (*adapter.Outcome, error) {
	secret, err := g.creds.Value(ctx, g.webhookSecretKey, "")
	if err != nil {
		return nil, err
	}
	if !VerifyWebhookSignature(secret, req.RawBody, req.Signature) {
		metrics.IncWebhook(string(model.ProviderMobilePush), "invalid_signature")
		return nil, domain.ErrSignatureVerification
	}

	var body pushWebhookBody
	if err := json.Unmarshal(req.RawBody, &body); err != nil {
		metrics.IncWebhook(string(model.ProviderMobilePush), "error")
		return nil, fmt.Errorf("%w: malformed webhook body", domain.ErrProviderAmbiguous)
	}
	metrics.IncWebhook(string(model.ProviderMobilePush), "ok")

	out := &adapter.Outcome{
		AttemptID:   body.Reference,
		ProviderRef: body.CheckoutID,
		Message:     body.ResultDesc,
	}
	if body.ResultCode == 0 {
		out.Status = adapter.OutcomeSucceeded
	} else {
		out.Status = adapter.OutcomeFailed
	}
	return out, nil
}

type pushStatusResponse struct {
	ResultCode *int   `json:"result_code"`
	ResultDesc string `json:"result_desc"`
	Reference  string `json:"reference"`
}

func (g *MobilePushGateway) CheckStatus(ctx context.Context, providerRef string) (*adapter.Outcome, error) {
	payload := map[string]interface{}{
		"short_code":  g.shortCode,
		"checkout_id": providerRef,
	}
	var resp pushStatusResponse
	if err := g.post(ctx, "status", g.baseURL+"/push/status", payload, &resp); err != nil {
		return nil, err
	}
	out := &adapter.Outcome{
		AttemptID:   resp.Reference,
		ProviderRef: providerRef,
		Message:     resp.ResultDesc,
	}
	switch {
	case resp.ResultCode == nil:
		// Prompt still on the handset.
		out.Status = adapter.OutcomePending
	case *resp.ResultCode == 0:
		out.Status = adapter.OutcomeSucceeded
	default:
		out.Status = adapter.OutcomeFailed
	}
	return out, nil
}

func (g *MobilePushGateway) post(ctx context.Context, op, url string, payload interface{}, out interface{}) error {
	apiKey, err := g.creds.Value(ctx, g.consumerKeyName, "")
	if err != nil {
		return err
	}

	start := time.Now()
	defer func() { metrics.ObserveGatewayLatency(string(model.ProviderMobilePush), op, time.Since(start)) }()

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		metrics.IncGatewayRequest(string(model.ProviderMobilePush), op, "unavailable")
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.IncGatewayRequest(string(model.ProviderMobilePush), op, "unavailable")
		return fmt.Errorf("%w: read body: %v", domain.ErrProviderUnavailable, err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		metrics.IncGatewayRequest(string(model.ProviderMobilePush), op, "invalid_credentials")
		return domain.ErrInvalidCredentials
	case resp.StatusCode >= 500:
		metrics.IncGatewayRequest(string(model.ProviderMobilePush), op, "unavailable")
		return fmt.Errorf("%w: http %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		metrics.IncGatewayRequest(string(model.ProviderMobilePush), op, "error")
		return fmt.Errorf("%w: unmarshal response: %v", domain.ErrProviderAmbiguous, err)
	}
	metrics.IncGatewayRequest(string(model.ProviderMobilePush), op, "ok")
	return nil
}
