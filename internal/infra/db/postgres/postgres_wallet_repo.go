package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"coursepay/internal/domain"
	"coursepay/internal/domain/model"
	"coursepay/internal/domain/ports/repository"
	"coursepay/internal/infra/metrics"
)

var _ repository.WalletRepository = (*walletRepo)(nil)

// walletRepo owns both wallet_accounts (materialized balance + version) and
// ledger_entries (append-only source of truth). The composite unique
// constraint on (account_id, attempt_id, kind) is the idempotency guard: a
// duplicate effect insert is a no-op, never a double credit.
type walletRepo struct{ pool *pgxpool.Pool }

func NewWalletRepo(pool *pgxpool.Pool) *walletRepo {
	return &walletRepo{pool: pool}
}

const debitRetries = 5

func (r *walletRepo) ApplyEffect(ctx context.Context, tx repository.Tx, accountID, attemptID string, kind model.EffectKind, delta decimal.Decimal, description string) (*repository.EffectResult, error) {
	if tx != nil {
		return r.applyEffect(ctx, tx, accountID, attemptID, kind, delta, description)
	}
	var out *repository.EffectResult
	err := r.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		res, err := r.applyEffect(ctx, tx, accountID, attemptID, kind, delta, description)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

func (r *walletRepo) applyEffect(ctx context.Context, tx repository.Tx, accountID, attemptID string, kind model.EffectKind, delta decimal.Decimal, description string) (*repository.EffectResult, error) {
	if err := r.ensureAccount(ctx, tx, accountID); err != nil {
		return nil, err
	}

	const insert = `
INSERT INTO ledger_entries (id, account_id, delta, attempt_id, kind, description, created_at)
VALUES ($1,$2,$3::numeric,$4,$5,$6,$7)
ON CONFLICT (account_id, attempt_id, kind) DO NOTHING;`

	entryID := ulid.Make().String()
	tag, err := execSQL(ctx, r.pool, tx, insert,
		entryID, accountID, delta.String(), attemptID, string(kind), description, time.Now().UTC())
	if err != nil && !isUniqueViolation(err) {
		return nil, domain.ErrOperationFailed
	}

	applied := err == nil && tag.RowsAffected() > 0
	metrics.IncLedgerEffect(string(kind), applied)
	if !applied {
		bal, err := r.balance(ctx, tx, accountID)
		if err != nil {
			return nil, err
		}
		return &repository.EffectResult{Applied: false, NewBalance: bal}, nil
	}

	const update = `
UPDATE wallet_accounts
   SET balance = balance + $2::numeric, version = version + 1, updated_at = NOW()
 WHERE user_id = $1
RETURNING balance::text;`
	row, err := pickRow(ctx, r.pool, tx, update, accountID, delta.String())
	if err != nil {
		return nil, err
	}
	var balStr string
	if err := row.Scan(&balStr); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	bal, err := decimal.NewFromString(balStr)
	if err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return &repository.EffectResult{Applied: true, NewBalance: bal}, nil
}

// Debit commits only through a single conditional statement: the version must
// be unchanged and the balance must cover the amount. A failed condition is
// re-read to distinguish a concurrent writer (retry) from a short balance
// (ErrInsufficientFunds). Never a separate read-then-write on the balance.
func (r *walletRepo) Debit(ctx context.Context, tx repository.Tx, accountID, attemptID string, amount decimal.Decimal, description string) (*repository.EffectResult, error) {
	if amount.IsNegative() || amount.IsZero() {
		return nil, domain.ErrInvalidArgument
	}
	if tx != nil {
		return r.debit(ctx, tx, accountID, attemptID, amount, description)
	}
	var out *repository.EffectResult
	err := r.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		res, err := r.debit(ctx, tx, accountID, attemptID, amount, description)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

func (r *walletRepo) debit(ctx context.Context, tx repository.Tx, accountID, attemptID string, amount decimal.Decimal, description string) (*repository.EffectResult, error) {
	if err := r.ensureAccount(ctx, tx, accountID); err != nil {
		return nil, err
	}

	// Idempotency first: a retried debit for the same attempt must no-op
	// before it touches the balance.
	const insert = `
INSERT INTO ledger_entries (id, account_id, delta, attempt_id, kind, description, created_at)
VALUES ($1,$2,$3::numeric,$4,'debit',$5,$6)
ON CONFLICT (account_id, attempt_id, kind) DO NOTHING;`

	entryID := ulid.Make().String()
	tag, err := execSQL(ctx, r.pool, tx, insert,
		entryID, accountID, amount.Neg().String(), attemptID, description, time.Now().UTC())
	if err != nil && !isUniqueViolation(err) {
		return nil, domain.ErrOperationFailed
	}
	applied := err == nil && tag.RowsAffected() > 0
	metrics.IncLedgerEffect(string(model.EffectDebit), applied)
	if !applied {
		bal, err := r.balance(ctx, tx, accountID)
		if err != nil {
			return nil, err
		}
		return &repository.EffectResult{Applied: false, NewBalance: bal}, nil
	}

	for i := 0; i < debitRetries; i++ {
		acc, err := r.account(ctx, tx, accountID)
		if err != nil {
			return nil, err
		}
		if acc.Balance.LessThan(amount) {
			// The surrounding transaction rolls back, discarding the entry:
			// a refused debit leaves no ledger row.
			metrics.IncInsufficientFunds()
			return nil, domain.ErrInsufficientFunds
		}

		const update = `
UPDATE wallet_accounts
   SET balance = balance - $2::numeric, version = version + 1, updated_at = NOW()
 WHERE user_id = $1 AND version = $3 AND balance >= $2::numeric;`
		utag, err := execSQL(ctx, r.pool, tx, update, accountID, amount.String(), acc.Version)
		if err != nil {
			return nil, domain.ErrOperationFailed
		}
		if utag.RowsAffected() == 0 {
			// A concurrent writer bumped the version or drained the balance
			// in between; re-read and decide again.
			metrics.IncDebitConflict()
			continue
		}
		bal, err := r.balance(ctx, tx, accountID)
		if err != nil {
			return nil, err
		}
		return &repository.EffectResult{Applied: true, NewBalance: bal}, nil
	}
	return nil, domain.ErrVersionConflict
}

func (r *walletRepo) Credit(ctx context.Context, tx repository.Tx, accountID, attemptID string, amount decimal.Decimal, description string) (*repository.EffectResult, error) {
	if amount.IsNegative() || amount.IsZero() {
		return nil, domain.ErrInvalidArgument
	}
	return r.ApplyEffect(ctx, tx, accountID, attemptID, model.EffectCredit, amount, description)
}

func (r *walletRepo) Balance(ctx context.Context, tx repository.Tx, accountID string) (*model.WalletAccount, error) {
	return r.account(ctx, tx, accountID)
}

func (r *walletRepo) ReplayBalance(ctx context.Context, tx repository.Tx, accountID string) (decimal.Decimal, error) {
	const q = `SELECT COALESCE(SUM(delta),0)::text FROM ledger_entries WHERE account_id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	var s string
	if err := row.Scan(&s); err != nil {
		return decimal.Zero, domain.ErrReadDatabaseRow
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, domain.ErrReadDatabaseRow
	}
	return d, nil
}

func (r *walletRepo) ensureAccount(ctx context.Context, tx repository.Tx, accountID string) error {
	const q = `INSERT INTO wallet_accounts (user_id, balance, version, updated_at) VALUES ($1, 0, 0, NOW()) ON CONFLICT (user_id) DO NOTHING;`
	if _, err := execSQL(ctx, r.pool, tx, q, accountID); err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *walletRepo) account(ctx context.Context, tx repository.Tx, accountID string) (*model.WalletAccount, error) {
	if err := r.ensureAccount(ctx, tx, accountID); err != nil {
		return nil, err
	}
	const q = `SELECT user_id, balance::text, version, updated_at FROM wallet_accounts WHERE user_id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, accountID)
	if err != nil {
		return nil, err
	}
	acc := &model.WalletAccount{}
	var balStr string
	if err := row.Scan(&acc.UserID, &balStr, &acc.Version, &acc.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	bal, err := decimal.NewFromString(balStr)
	if err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	acc.Balance = bal
	return acc, nil
}

func (r *walletRepo) balance(ctx context.Context, tx repository.Tx, accountID string) (decimal.Decimal, error) {
	acc, err := r.account(ctx, tx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return acc.Balance, nil
}

func (r *walletRepo) withTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
