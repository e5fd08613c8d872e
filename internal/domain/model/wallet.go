package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletAccount caches the materialized balance for fast reads. The ledger is
// the source of truth; Balance must always equal the sum of committed ledger
// deltas for the account. Version is a monotonic counter used for optimistic
// concurrency on balance updates.
type WalletAccount struct {
	UserID    string
	Balance   decimal.Decimal
	Version   int64
	UpdatedAt time.Time
}

type EffectKind string

const (
	EffectCredit EffectKind = "credit"
	EffectDebit  EffectKind = "debit"
)

// LedgerEntry is append-only: never updated, never deleted. The unique
// constraint on (AccountID, AttemptID, Kind) makes a payment attempt's
// monetary effect idempotent under duplicate webhooks and retried polls.
type LedgerEntry struct {
	ID          string // ULID, sortable within the append-only log
	AccountID   string
	Delta       decimal.Decimal // signed: negative for debits
	AttemptID   string          // the causing payment attempt
	Kind        EffectKind
	Description string
	CreatedAt   time.Time
}
