// File: internal/usecase/wallet_uc.go
package usecase

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"coursepay/internal/domain"
	"coursepay/internal/domain/model"
	"coursepay/internal/domain/ports/repository"
	"coursepay/internal/infra/metrics"
)

// Compile-time check
var _ WalletUseCase = (*walletUC)(nil)

// AuditResult compares the materialized balance against a replay of the
// ledger. Consistent is false only on a bookkeeping defect.
type AuditResult struct {
	Cached     decimal.Decimal
	Replayed   decimal.Decimal
	Consistent bool
}

type WalletUseCase interface {
	// Credit adds funds idempotently by reference. Used by internal
	// endpoints for promotional or corrective credits.
	Credit(ctx context.Context, userID, reference string, amount decimal.Decimal, description string) (*repository.EffectResult, error)

	// Debit removes funds idempotently by reference, never below zero.
	Debit(ctx context.Context, userID, reference string, amount decimal.Decimal, description string) (*repository.EffectResult, error)

	Balance(ctx context.Context, userID string) (*model.WalletAccount, error)

	// Audit replays the ledger and checks it against the cached balance.
	Audit(ctx context.Context, userID string) (*AuditResult, error)
}

type walletUC struct {
	wallets repository.WalletRepository
	txm     repository.TransactionManager
	log     zerolog.Logger
}

func NewWalletUseCase(wallets repository.WalletRepository, txm repository.TransactionManager, log zerolog.Logger) *walletUC {
	return &walletUC{
		wallets: wallets,
		txm:     txm,
		log:     log.With().Str("component", "wallet").Logger(),
	}
}

func (u *walletUC) Credit(ctx context.Context, userID, reference string, amount decimal.Decimal, description string) (*repository.EffectResult, error) {
	if err := validateAdjustment(userID, reference, amount); err != nil {
		return nil, err
	}
	var res *repository.EffectResult
	err := u.txm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var txErr error
		res, txErr = u.wallets.Credit(ctx, tx, userID, reference, amount, description)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	metrics.IncLedgerEffect("credit", res.Applied)
	u.log.Info().Str("user_id", userID).Str("reference", reference).
		Str("amount", amount.String()).Bool("applied", res.Applied).Msg("wallet credit")
	return res, nil
}

func (u *walletUC) Debit(ctx context.Context, userID, reference string, amount decimal.Decimal, description string) (*repository.EffectResult, error) {
	if err := validateAdjustment(userID, reference, amount); err != nil {
		return nil, err
	}
	var res *repository.EffectResult
	err := u.txm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var txErr error
		res, txErr = u.wallets.Debit(ctx, tx, userID, reference, amount, description)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	metrics.IncLedgerEffect("debit", res.Applied)
	u.log.Info().Str("user_id", userID).Str("reference", reference).
		Str("amount", amount.String()).Bool("applied", res.Applied).Msg("wallet debit")
	return res, nil
}

func (u *walletUC) Balance(ctx context.Context, userID string) (*model.WalletAccount, error) {
	return u.wallets.Balance(ctx, nil, userID)
}

func (u *walletUC) Audit(ctx context.Context, userID string) (*AuditResult, error) {
	acc, err := u.wallets.Balance(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	replayed, err := u.wallets.ReplayBalance(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	res := &AuditResult{
		Cached:     acc.Balance,
		Replayed:   replayed,
		Consistent: acc.Balance.Equal(replayed),
	}
	if !res.Consistent {
		u.log.Error().Str("user_id", userID).Str("cached", res.Cached.String()).
			Str("replayed", res.Replayed.String()).Msg("ledger drift detected")
	}
	return res, nil
}

func validateAdjustment(userID, reference string, amount decimal.Decimal) error {
	if userID == "" || reference == "" {
		return fmt.Errorf("%w: user and reference are required", domain.ErrInvalidArgument)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", domain.ErrInvalidArgument)
	}
	return nil
}
