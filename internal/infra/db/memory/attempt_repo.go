// Package memory holds mutex-guarded implementations of the repository
// ports. They back unit tests and the -dev bootstrap path and must preserve
// the exact semantics of the Postgres repos: upsert-by-id idempotency,
// terminal-state immutability, the unique ledger effect constraint, and the
// optimistic version check on wallet balances.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"coursepay/internal/domain"
	"coursepay/internal/domain/model"
	"coursepay/internal/domain/ports/repository"
)

var _ repository.PaymentAttemptRepository = (*AttemptRepo)(nil)

type AttemptRepo struct {
	mu       sync.RWMutex
	attempts map[string]*model.PaymentAttempt
}

func NewAttemptRepo() *AttemptRepo {
	return &AttemptRepo{attempts: make(map[string]*model.PaymentAttempt)}
}

func (r *AttemptRepo) Save(_ context.Context, _ repository.Tx, a *model.PaymentAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.attempts[a.ID] = &cp
	return nil
}

func (r *AttemptRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.PaymentAttempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.attempts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *AttemptRepo) FindByProviderRef(_ context.Context, _ repository.Tx, ref string) (*model.PaymentAttempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.attempts {
		if a.ProviderReference == ref {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *AttemptRepo) UpdateStateIfActive(_ context.Context, _ repository.Tx, id string, state model.AttemptState, providerRef, failureReason string, terminalAt *time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if a.State.Terminal() {
		return false, nil
	}
	a.State = state
	if providerRef != "" {
		a.ProviderReference = providerRef
	}
	if failureReason != "" {
		a.FailureReason = failureReason
	}
	if terminalAt != nil {
		a.TerminalAt = terminalAt
	}
	a.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *AttemptRepo) IncrementAttempts(_ context.Context, _ repository.Tx, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	a.Attempts++
	a.UpdatedAt = time.Now().UTC()
	return a.Attempts, nil
}

func (r *AttemptRepo) ListAwaitingConfirmation(_ context.Context, _ repository.Tx, olderThan time.Time, limit int) ([]*model.PaymentAttempt, error) {
	if limit <= 0 {
		limit = 100
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.PaymentAttempt
	for _, a := range r.attempts {
		if a.State == model.StateAwaitingConfirmation && a.UpdatedAt.Before(olderThan) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
