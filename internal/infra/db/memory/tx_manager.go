package memory

import (
	"context"

	"coursepay/internal/domain/ports/repository"
)

var _ repository.TransactionManager = (*TxManager)(nil)

// TxManager for the memory repos: no real transaction semantics, the repos
// are individually atomic. Good enough for tests and the -dev bootstrap.
type TxManager struct{}

func NewTxManager() *TxManager { return &TxManager{} }

func (*TxManager) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, nil)
}
