package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"coursepay/internal/domain"
	"coursepay/internal/domain/model"
	"coursepay/internal/domain/ports/adapter"
	"coursepay/internal/infra/metrics"
)

// StripeGateway implements the card-direct provider on top of Stripe
// PaymentIntents. Initiation returns a client secret for the frontend to
// finish; the authoritative outcome arrives over the signed webhook feed.
type StripeGateway struct {
	apiKeySecret     string // vault key for the API key
	webhookSecretKey string // vault key for the webhook signing secret
	creds            CredentialSource

	clientFor func(apiKey string) *stripe.Client
}

func NewStripeGateway(apiKeySecret, webhookSecretKey string, creds CredentialSource) *StripeGateway {
	return &StripeGateway{
		apiKeySecret:     apiKeySecret,
		webhookSecretKey: webhookSecretKey,
		creds:            creds,
		clientFor:        func(apiKey string) *stripe.Client { return stripe.NewClient(apiKey) },
	}
}

func (g *StripeGateway) Name() model.Provider { return model.ProviderCardDirect }

func (g *StripeGateway) client(ctx context.Context) (*stripe.Client, error) {
	apiKey, err := g.creds.Value(ctx, g.apiKeySecret, "STRIPE_SECRET_KEY")
	if err != nil {
		return nil, err
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: stripe api key is not configured", domain.ErrInvalidCredentials)
	}
	return g.clientFor(apiKey), nil
}

func (g *StripeGateway) Initiate(ctx context.Context, a *model.PaymentAttempt) (*adapter.InitiateResult, error) {
	sc, err := g.client(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(minorUnits(a)),
		Currency: stripe.String(a.Currency),
		Metadata: map[string]string{"attempt_id": a.ID},
	}
	params.IdempotencyKey = stripe.String(a.ID)
	pi, err := sc.V1PaymentIntents.Create(ctx, params)
	metrics.ObserveGatewayLatency(string(model.ProviderCardDirect), "initiate", time.Since(start))
	if err != nil {
		metrics.IncGatewayRequest(string(model.ProviderCardDirect), "initiate", "error")
		return nil, mapStripeError(err)
	}
	metrics.IncGatewayRequest(string(model.ProviderCardDirect), "initiate", "ok")

	res := &adapter.InitiateResult{
		ProviderRef:  pi.ID,
		ClientSecret: pi.ClientSecret,
	}
	// Intents can settle synchronously when a payment method was attached
	// at creation time.
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		res.Terminal = &adapter.Outcome{Status: adapter.OutcomeSucceeded, AttemptID: a.ID, ProviderRef: pi.ID}
	case stripe.PaymentIntentStatusCanceled:
		res.Terminal = &adapter.Outcome{Status: adapter.OutcomeFailed, AttemptID: a.ID, ProviderRef: pi.ID, Message: "intent canceled"}
	}
	return res, nil
}

func (g *StripeGateway) Confirm(ctx context.Context, req adapter.WebhookRequest) (*adapter.Outcome, error) {
	whSecret, err := g.creds.Value(ctx, g.webhookSecretKey, "STRIPE_WEBHOOK_SECRET")
	if err != nil {
		return nil, err
	}
	event, err := webhook.ConstructEvent(req.RawBody, req.Signature, whSecret)
	if err != nil {
		metrics.IncWebhook(string(model.ProviderCardDirect), "invalid_signature")
		return nil, fmt.Errorf("%w: %v", domain.ErrSignatureVerification, err)
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		metrics.IncWebhook(string(model.ProviderCardDirect), "error")
		return nil, fmt.Errorf("%w: malformed event payload", domain.ErrProviderAmbiguous)
	}
	metrics.IncWebhook(string(model.ProviderCardDirect), "ok")

	out := &adapter.Outcome{
		AttemptID:   pi.Metadata["attempt_id"],
		ProviderRef: pi.ID,
	}
	switch event.Type {
	case "payment_intent.succeeded":
		out.Status = adapter.OutcomeSucceeded
	case "payment_intent.payment_failed", "payment_intent.canceled":
		out.Status = adapter.OutcomeFailed
		if pi.LastPaymentError != nil {
			out.Message = pi.LastPaymentError.Msg
		}
	default:
		out.Status = adapter.OutcomePending
	}
	return out, nil
}

func (g *StripeGateway) CheckStatus(ctx context.Context, providerRef string) (*adapter.Outcome, error) {
	sc, err := g.client(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	pi, err := sc.V1PaymentIntents.Retrieve(ctx, providerRef, nil)
	metrics.ObserveGatewayLatency(string(model.ProviderCardDirect), "status", time.Since(start))
	if err != nil {
		metrics.IncGatewayRequest(string(model.ProviderCardDirect), "status", "error")
		return nil, mapStripeError(err)
	}
	metrics.IncGatewayRequest(string(model.ProviderCardDirect), "status", "ok")

	out := &adapter.Outcome{
		AttemptID:   pi.Metadata["attempt_id"],
		ProviderRef: pi.ID,
	}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		out.Status = adapter.OutcomeSucceeded
	case stripe.PaymentIntentStatusCanceled:
		out.Status = adapter.OutcomeFailed
		out.Message = "intent canceled"
	default:
		out.Status = adapter.OutcomePending
	}
	return out, nil
}

// minorUnits converts the attempt amount to the smallest currency unit.
func minorUnits(a *model.PaymentAttempt) int64 {
	return a.Amount.Mul(decimal.NewFromInt(100)).IntPart()
}

func mapStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		// Authentication faults have no dedicated error type; Stripe reports
		// a bad or revoked API key as a 401 invalid_request error.
		if stripeErr.HTTPStatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %v", domain.ErrInvalidCredentials, stripeErr.Msg)
		}
		switch stripeErr.Type {
		case stripe.ErrorTypeCard:
			return fmt.Errorf("%w: %v", domain.ErrProviderRejected, stripeErr.Msg)
		case stripe.ErrorTypeAPI:
			return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, stripeErr.Msg)
		}
		return fmt.Errorf("%w: %v", domain.ErrProviderRejected, stripeErr.Msg)
	}
	return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
}
