package adapter

import (
	"context"

	"coursepay/internal/domain/model"
)

// OutcomeStatus is what a provider signal maps to. Anything a provider says
// that is not an explicit success or an explicit decline stays pending.
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomePending   OutcomeStatus = "pending"
)

// Outcome is the provider-agnostic result of a confirmation signal or a
// status poll.
type Outcome struct {
	Status      OutcomeStatus
	AttemptID   string // attempt the signal belongs to, when the provider echoes it
	ProviderRef string
	Message     string // provider wording, surfaced on failures
}

// InitiateResult is what starting a payment yields. Exactly one of the
// optional fields is meaningful per provider family: redirect providers set
// RedirectURL, card-direct sets ClientSecret, push providers only the
// reference. Terminal is set when the provider captured (or declined)
// synchronously.
type InitiateResult struct {
	ProviderRef  string
	RedirectURL  string
	ClientSecret string
	Terminal     *Outcome
}

// WebhookRequest carries the exact bytes the provider sent. Signature
// verification runs over RawBody, so it must never pass through JSON
// middleware first.
type WebhookRequest struct {
	RawBody   []byte
	Signature string // transport header, provider-specific
}

// Gateway is the hex port every payment provider adapter implements.
// Errors use the domain taxonomy: ErrProviderUnavailable is retryable,
// ErrProviderRejected is a terminal decline, ErrProviderAmbiguous means keep
// polling, ErrInvalidCredentials is a configuration fault and must not be
// retried.
type Gateway interface {
	Name() model.Provider

	// Initiate starts the payment on the provider side.
	Initiate(ctx context.Context, attempt *model.PaymentAttempt) (*InitiateResult, error)

	// Confirm validates an inbound asynchronous notification and maps it to
	// an outcome. An unverifiable signature is ErrSignatureVerification,
	// never an implicit success.
	Confirm(ctx context.Context, req WebhookRequest) (*Outcome, error)

	// CheckStatus is the synchronous poll for providers without webhooks.
	// Transient transport failures must surface as ErrProviderUnavailable so
	// the caller's poll loop can absorb them.
	CheckStatus(ctx context.Context, providerRef string) (*Outcome, error)
}
