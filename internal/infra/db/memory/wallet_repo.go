package memory

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"coursepay/internal/domain"
	"coursepay/internal/domain/model"
	"coursepay/internal/domain/ports/repository"
)

var _ repository.WalletRepository = (*WalletRepo)(nil)

type effectKey struct {
	accountID string
	attemptID string
	kind      model.EffectKind
}

type WalletRepo struct {
	mu       sync.Mutex
	accounts map[string]*model.WalletAccount
	entries  []*model.LedgerEntry
	effects  map[effectKey]struct{} // the composite unique constraint
}

func NewWalletRepo() *WalletRepo {
	return &WalletRepo{
		accounts: make(map[string]*model.WalletAccount),
		effects:  make(map[effectKey]struct{}),
	}
}

func (r *WalletRepo) ensure(accountID string) *model.WalletAccount {
	acc, ok := r.accounts[accountID]
	if !ok {
		acc = &model.WalletAccount{UserID: accountID, Balance: decimal.Zero, UpdatedAt: time.Now().UTC()}
		r.accounts[accountID] = acc
	}
	return acc
}

func (r *WalletRepo) append(accountID, attemptID string, kind model.EffectKind, delta decimal.Decimal, description string) {
	r.effects[effectKey{accountID, attemptID, kind}] = struct{}{}
	r.entries = append(r.entries, &model.LedgerEntry{
		ID:          ulid.Make().String(),
		AccountID:   accountID,
		Delta:       delta,
		AttemptID:   attemptID,
		Kind:        kind,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	})
}

func (r *WalletRepo) ApplyEffect(_ context.Context, _ repository.Tx, accountID, attemptID string, kind model.EffectKind, delta decimal.Decimal, description string) (*repository.EffectResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc := r.ensure(accountID)

	if _, dup := r.effects[effectKey{accountID, attemptID, kind}]; dup {
		return &repository.EffectResult{Applied: false, NewBalance: acc.Balance}, nil
	}

	r.append(accountID, attemptID, kind, delta, description)
	acc.Balance = acc.Balance.Add(delta)
	acc.Version++
	acc.UpdatedAt = time.Now().UTC()
	return &repository.EffectResult{Applied: true, NewBalance: acc.Balance}, nil
}

func (r *WalletRepo) Debit(_ context.Context, _ repository.Tx, accountID, attemptID string, amount decimal.Decimal, description string) (*repository.EffectResult, error) {
	if amount.IsNegative() || amount.IsZero() {
		return nil, domain.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	acc := r.ensure(accountID)

	if _, dup := r.effects[effectKey{accountID, attemptID, model.EffectDebit}]; dup {
		return &repository.EffectResult{Applied: false, NewBalance: acc.Balance}, nil
	}
	if acc.Balance.LessThan(amount) {
		return nil, domain.ErrInsufficientFunds
	}

	r.append(accountID, attemptID, model.EffectDebit, amount.Neg(), description)
	acc.Balance = acc.Balance.Sub(amount)
	acc.Version++
	acc.UpdatedAt = time.Now().UTC()
	return &repository.EffectResult{Applied: true, NewBalance: acc.Balance}, nil
}

func (r *WalletRepo) Credit(ctx context.Context, tx repository.Tx, accountID, attemptID string, amount decimal.Decimal, description string) (*repository.EffectResult, error) {
	if amount.IsNegative() || amount.IsZero() {
		return nil, domain.ErrInvalidArgument
	}
	return r.ApplyEffect(ctx, tx, accountID, attemptID, model.EffectCredit, amount, description)
}

func (r *WalletRepo) Balance(_ context.Context, _ repository.Tx, accountID string) (*model.WalletAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc := r.ensure(accountID)
	cp := *acc
	return &cp, nil
}

func (r *WalletRepo) ReplayBalance(_ context.Context, _ repository.Tx, accountID string) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sum := decimal.Zero
	for _, e := range r.entries {
		if e.AccountID == accountID {
			sum = sum.Add(e.Delta)
		}
	}
	return sum, nil
}

// Entries returns a copy of the ledger for an account, oldest first.
func (r *WalletRepo) Entries(accountID string) []*model.LedgerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.LedgerEntry
	for _, e := range r.entries {
		if e.AccountID == accountID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}
