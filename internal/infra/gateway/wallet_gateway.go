package gateway

import (
	"context"
	"errors"
	"fmt"

	"coursepay/internal/domain"
	"coursepay/internal/domain/model"
	"coursepay/internal/domain/ports/adapter"
	"coursepay/internal/domain/ports/repository"
	"coursepay/internal/infra/metrics"
)

// WalletGateway settles purchases against the user's internal wallet. There
// is no external party: Initiate performs the debit atomically and reports a
// terminal outcome in the same call.
type WalletGateway struct {
	wallets repository.WalletRepository
	txm     repository.TransactionManager
}

func NewWalletGateway(wallets repository.WalletRepository, txm repository.TransactionManager) *WalletGateway {
	return &WalletGateway{wallets: wallets, txm: txm}
}

func (g *WalletGateway) Name() model.Provider { return model.ProviderWalletInternal }

func (g *WalletGateway) Initiate(ctx context.Context, a *model.PaymentAttempt) (*adapter.InitiateResult, error) {
	var res *repository.EffectResult
	err := g.txm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var txErr error
		res, txErr = g.wallets.Debit(ctx, tx, a.UserID, a.ID, a.Amount, "purchase "+a.SubjectID)
		return txErr
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			metrics.IncInsufficientFunds()
			return &adapter.InitiateResult{
				Terminal: &adapter.Outcome{
					Status:    adapter.OutcomeFailed,
					AttemptID: a.ID,
					Message:   "insufficient wallet balance",
				},
			}, nil
		}
		return nil, err
	}
	metrics.IncLedgerEffect("debit", res.Applied)

	return &adapter.InitiateResult{
		ProviderRef: a.ID,
		Terminal: &adapter.Outcome{
			Status:    adapter.OutcomeSucceeded,
			AttemptID: a.ID,
			Message:   fmt.Sprintf("wallet balance %s", res.NewBalance.StringFixed(2)),
		},
	}, nil
}

// Confirm never applies: wallet settlement is synchronous and produces no
// webhooks.
func (g *WalletGateway) Confirm(ctx context.Context, req adapter.WebhookRequest) (*adapter.Outcome, error) {
	return nil, fmt.Errorf("%w: wallet provider has no webhook feed", domain.ErrOperationFailed)
}

func (g *WalletGateway) CheckStatus(ctx context.Context, providerRef string) (*adapter.Outcome, error) {
	return nil, fmt.Errorf("%w: wallet provider settles synchronously", domain.ErrOperationFailed)
}
