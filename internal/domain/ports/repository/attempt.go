package repository

import (
	"context"
	"time"

	"coursepay/internal/domain/model"
)

type PaymentAttemptRepository interface {
	// Save upserts keyed by id. The id doubles as the initiation idempotency
	// key: retrying an initiate with the same id lands on the same row.
	Save(ctx context.Context, tx Tx, a *model.PaymentAttempt) error

	FindByID(ctx context.Context, tx Tx, id string) (*model.PaymentAttempt, error)
	FindByProviderRef(ctx context.Context, tx Tx, providerRef string) (*model.PaymentAttempt, error)

	// UpdateStateIfActive writes the new state only when the stored state is
	// not terminal yet. Returns false when a terminal state already won the
	// race; callers must treat that as a discarded late signal.
	UpdateStateIfActive(ctx context.Context, tx Tx, id string, state model.AttemptState, providerRef, failureReason string, terminalAt *time.Time) (bool, error)

	// IncrementAttempts bumps the poll counter and returns the new value.
	IncrementAttempts(ctx context.Context, tx Tx, id string) (int, error)

	// ListAwaitingConfirmation returns non-terminal attempts stuck in the
	// confirmation phase since before olderThan, for the reconciliation sweep.
	ListAwaitingConfirmation(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.PaymentAttempt, error)
}
