// Package gateway holds one adapter per payment provider family behind the
// adapter.Gateway port: synchronous card capture (Stripe), redirect-then-
// webhook providers, out-of-band mobile push with caller-side polling, and
// the internal ledger-backed wallet.
package gateway

import (
	"context"

	"coursepay/internal/domain"
	"coursepay/internal/domain/model"
	"coursepay/internal/domain/ports/adapter"
)

// CredentialSource is what adapters need from the vault: plaintext values,
// with missing or inactive keys surfacing as ErrInvalidCredentials.
type CredentialSource interface {
	Value(ctx context.Context, key, fallbackEnv string) (string, error)
}

// Registry is the closed dispatch table from provider id to adapter. An
// unknown provider is an explicit error, not a fallthrough.
type Registry struct {
	adapters map[model.Provider]adapter.Gateway
}

func NewRegistry(gws ...adapter.Gateway) *Registry {
	r := &Registry{adapters: make(map[model.Provider]adapter.Gateway, len(gws))}
	for _, gw := range gws {
		r.adapters[gw.Name()] = gw
	}
	return r
}

func (r *Registry) Get(p model.Provider) (adapter.Gateway, error) {
	gw, ok := r.adapters[p]
	if !ok {
		return nil, domain.ErrUnsupportedProvider
	}
	return gw, nil
}
