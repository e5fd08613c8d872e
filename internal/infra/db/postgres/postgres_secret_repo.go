package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"coursepay/internal/domain"
	"coursepay/internal/domain/model"
	"coursepay/internal/domain/ports/repository"
)

var _ repository.SecretRepository = (*secretRepo)(nil)

type secretRepo struct{ pool *pgxpool.Pool }

func NewSecretRepo(pool *pgxpool.Pool) *secretRepo {
	return &secretRepo{pool: pool}
}

func (r *secretRepo) Upsert(ctx context.Context, tx repository.Tx, s *model.Secret) error {
	const q = `
INSERT INTO secrets (key, ciphertext, is_encrypted, is_active, category, updated_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (key) DO UPDATE SET
  ciphertext=$2, is_encrypted=$3, is_active=$4, category=$5, updated_at=$6;`

	_, err := execSQL(ctx, r.pool, tx, q, s.Key, s.Value, s.IsEncrypted, s.IsActive, s.Category, s.UpdatedAt)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *secretRepo) FindByKey(ctx context.Context, tx repository.Tx, key string) (*model.Secret, error) {
	const q = `SELECT key, ciphertext, is_encrypted, is_active, category, updated_at FROM secrets WHERE key=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, key)
	if err != nil {
		return nil, err
	}

	s := &model.Secret{}
	if err := row.Scan(&s.Key, &s.Value, &s.IsEncrypted, &s.IsActive, &s.Category, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return s, nil
}

func (r *secretRepo) SetActive(ctx context.Context, tx repository.Tx, key string, active bool) error {
	const q = `UPDATE secrets SET is_active=$2, updated_at=NOW() WHERE key=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q, key, active)
	if err != nil {
		return domain.ErrOperationFailed
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
