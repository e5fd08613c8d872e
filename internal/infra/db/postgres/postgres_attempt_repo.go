package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"coursepay/internal/domain"
	"coursepay/internal/domain/model"
	"coursepay/internal/domain/ports/repository"
)

var _ repository.PaymentAttemptRepository = (*attemptRepo)(nil)

type attemptRepo struct{ pool *pgxpool.Pool }

func NewAttemptRepo(pool *pgxpool.Pool) *attemptRepo {
	return &attemptRepo{pool: pool}
}

const attemptColumns = `id, user_id, provider, amount::text, currency, subject_type, subject_id, state, provider_reference, failure_reason, attempts, created_at, updated_at, terminal_at`

func (r *attemptRepo) Save(ctx context.Context, tx repository.Tx, a *model.PaymentAttempt) error {
	const q = `
INSERT INTO payment_attempts (
  id, user_id, provider, amount, currency, subject_type, subject_id, state, provider_reference, failure_reason, attempts, created_at, updated_at, terminal_at
) VALUES (
  $1,$2,$3,$4::numeric,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
) ON CONFLICT (id) DO UPDATE SET
  state=$8, provider_reference=$9, failure_reason=$10, attempts=$11, updated_at=$13, terminal_at=$14;`

	_, err := execSQL(ctx, r.pool, tx, q,
		a.ID, a.UserID, string(a.Provider), a.Amount.String(), a.Currency,
		string(a.SubjectType), a.SubjectID, string(a.State), a.ProviderReference,
		a.FailureReason, a.Attempts, a.CreatedAt, a.UpdatedAt, a.TerminalAt)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func scanAttempt(row pgx.Row) (*model.PaymentAttempt, error) {
	a := &model.PaymentAttempt{}
	var provider, subjectType, state, amount string
	if err := row.Scan(&a.ID, &a.UserID, &provider, &amount, &a.Currency, &subjectType,
		&a.SubjectID, &state, &a.ProviderReference, &a.FailureReason, &a.Attempts,
		&a.CreatedAt, &a.UpdatedAt, &a.TerminalAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	a.Provider = model.Provider(provider)
	a.SubjectType = model.SubjectType(subjectType)
	a.State = model.AttemptState(state)
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	a.Amount = d
	return a, nil
}

func (r *attemptRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentAttempt, error) {
	q := `SELECT ` + attemptColumns + ` FROM payment_attempts WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", id)
	if err != nil {
		return nil, err
	}
	return scanAttempt(row)
}

func (r *attemptRepo) FindByProviderRef(ctx context.Context, tx repository.Tx, providerRef string) (*model.PaymentAttempt, error) {
	q := `SELECT ` + attemptColumns + ` FROM payment_attempts WHERE provider_reference=$1 LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, providerRef)
	if err != nil {
		return nil, err
	}
	return scanAttempt(row)
}

// UpdateStateIfActive writes the new state only when the stored state is not
// terminal; a terminal row is immutable at the SQL level, so racing terminal
// signals cannot overwrite each other.
func (r *attemptRepo) UpdateStateIfActive(ctx context.Context, tx repository.Tx, id string, state model.AttemptState, providerRef, failureReason string, terminalAt *time.Time) (bool, error) {
	const q = `
UPDATE payment_attempts
   SET state = $2,
       provider_reference = CASE WHEN $3 <> '' THEN $3 ELSE provider_reference END,
       failure_reason = CASE WHEN $4 <> '' THEN $4 ELSE failure_reason END,
       terminal_at = COALESCE($5, terminal_at),
       updated_at = NOW()
 WHERE id = $1
   AND state NOT IN ('succeeded','failed','timed_out','cancelled');`

	tag, err := execSQL(ctx, r.pool, tx, q, id, string(state), providerRef, failureReason, terminalAt)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return tag.RowsAffected() > 0, nil
}

func (r *attemptRepo) IncrementAttempts(ctx context.Context, tx repository.Tx, id string) (int, error) {
	const q = `UPDATE payment_attempts SET attempts = attempts + 1, updated_at = NOW() WHERE id=$1 RETURNING attempts;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, domain.ErrReadDatabaseRow
	}
	return n, nil
}

func (r *attemptRepo) ListAwaitingConfirmation(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.PaymentAttempt, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + attemptColumns + ` FROM payment_attempts WHERE state='awaiting_confirmation' AND updated_at < $1 ORDER BY updated_at ASC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, olderThan, limit)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return nil, domain.ErrNotFound
		case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidExecContext):
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	var out []*model.PaymentAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
