package repository

import (
	"context"

	"coursepay/internal/domain/model"
)

type SecretRepository interface {
	// Upsert persists the (possibly encrypted) secret value.
	Upsert(ctx context.Context, tx Tx, s *model.Secret) error

	// FindByKey returns the stored secret including inactive ones; the vault
	// decides what an inactive secret means.
	FindByKey(ctx context.Context, tx Tx, key string) (*model.Secret, error)

	SetActive(ctx context.Context, tx Tx, key string, active bool) error
}
