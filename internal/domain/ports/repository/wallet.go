package repository

import (
	"context"

	"github.com/shopspring/decimal"

	"coursepay/internal/domain/model"
)

// EffectResult reports whether a ledger effect was applied by this call.
// Applied=false means the (account, attempt, kind) effect already existed;
// NewBalance is the committed balance either way.
type EffectResult struct {
	Applied    bool
	NewBalance decimal.Decimal
}

type WalletRepository interface {
	// ApplyEffect inserts a ledger entry and updates the materialized balance
	// in one transaction. A unique-constraint hit on
	// (accountID, attemptID, kind) is not an error: the effect was already
	// applied and the call no-ops. Delta is the signed amount.
	ApplyEffect(ctx context.Context, tx Tx, accountID, attemptID string, kind model.EffectKind, delta decimal.Decimal, description string) (*EffectResult, error)

	// Debit applies a negative effect only if the balance stays >= 0, using a
	// single conditional update on (version, balance) retried on version
	// conflict. Returns domain.ErrInsufficientFunds without any mutation when
	// the balance is short.
	Debit(ctx context.Context, tx Tx, accountID, attemptID string, amount decimal.Decimal, description string) (*EffectResult, error)

	// Credit applies a positive effect with the same idempotency guard and no
	// balance floor.
	Credit(ctx context.Context, tx Tx, accountID, attemptID string, amount decimal.Decimal, description string) (*EffectResult, error)

	Balance(ctx context.Context, tx Tx, accountID string) (*model.WalletAccount, error)

	// ReplayBalance recomputes the balance from ledger rows alone. It must
	// reproduce the cached balance exactly.
	ReplayBalance(ctx context.Context, tx Tx, accountID string) (decimal.Decimal, error)
}
