package repository

import "context"

// Tx is an opaque transaction handle. Postgres repos accept pgx.Tx (or nil
// for pool execution); the in-memory repos ignore it.
type Tx any

// TransactionManager begins a transaction, runs fn, and commits or rolls
// back depending on fn's error.
type TransactionManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
