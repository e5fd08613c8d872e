package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"coursepay/internal/domain"
	"coursepay/internal/domain/model"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestApplyEffectIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewWalletRepo()

	first, err := repo.ApplyEffect(ctx, nil, "acc-1", "att-1", model.EffectCredit, dec("25.00"), "course sale")
	if err != nil {
		t.Fatalf("ApplyEffect: %v", err)
	}
	if !first.Applied || !first.NewBalance.Equal(dec("25.00")) {
		t.Fatalf("first effect: applied=%v balance=%s", first.Applied, first.NewBalance)
	}

	// Duplicate webhook deliveries and retried polls replay the same effect.
	for i := 0; i < 5; i++ {
		again, err := repo.ApplyEffect(ctx, nil, "acc-1", "att-1", model.EffectCredit, dec("25.00"), "course sale")
		if err != nil {
			t.Fatalf("duplicate ApplyEffect: %v", err)
		}
		if again.Applied {
			t.Fatal("duplicate effect must not apply")
		}
		if !again.NewBalance.Equal(dec("25.00")) {
			t.Fatalf("duplicate effect moved balance to %s", again.NewBalance)
		}
	}

	if n := len(repo.Entries("acc-1")); n != 1 {
		t.Fatalf("ledger has %d entries, want 1", n)
	}
}

func TestDebitInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	repo := NewWalletRepo()

	if _, err := repo.Credit(ctx, nil, "acc-1", "topup-1", dec("10.00"), "top-up"); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	_, err := repo.Debit(ctx, nil, "acc-1", "att-1", dec("25.00"), "course purchase")
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	acc, _ := repo.Balance(ctx, nil, "acc-1")
	if !acc.Balance.Equal(dec("10.00")) {
		t.Errorf("balance mutated to %s", acc.Balance)
	}
	// A refused debit leaves no ledger row.
	if n := len(repo.Entries("acc-1")); n != 1 {
		t.Errorf("ledger has %d entries, want only the top-up", n)
	}
}

// Concurrent debits racing on one account must never drive the balance
// negative, and the ledger must stay consistent with the cached balance.
func TestDebitConcurrentNeverNegative(t *testing.T) {
	ctx := context.Background()
	repo := NewWalletRepo()

	if _, err := repo.Credit(ctx, nil, "acc-1", "topup-1", dec("100.00"), "top-up"); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	const workers = 50
	var wg sync.WaitGroup
	var okCount int64
	var mu sync.Mutex

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// 50 racing $7 debits against $100: at most 14 can land.
			_, err := repo.Debit(ctx, nil, "acc-1", fmt.Sprintf("att-%d", i), dec("7.00"), "race")
			if err == nil {
				mu.Lock()
				okCount++
				mu.Unlock()
			} else if !errors.Is(err, domain.ErrInsufficientFunds) {
				t.Errorf("unexpected debit error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	acc, _ := repo.Balance(ctx, nil, "acc-1")
	if acc.Balance.IsNegative() {
		t.Fatalf("balance went negative: %s", acc.Balance)
	}
	want := dec("100.00").Sub(dec("7.00").Mul(decimal.NewFromInt(okCount)))
	if !acc.Balance.Equal(want) {
		t.Errorf("balance %s inconsistent with %d applied debits (want %s)", acc.Balance, okCount, want)
	}
	if okCount > 14 {
		t.Errorf("%d debits applied, more than the balance allows", okCount)
	}
}

// The cached balance is a projection: replaying the ledger must reproduce it
// exactly after any mix of credits, debits and duplicates.
func TestReplayBalanceMatchesCache(t *testing.T) {
	ctx := context.Background()
	repo := NewWalletRepo()

	ops := []struct {
		attempt string
		kind    model.EffectKind
		amount  string
	}{
		{"a1", model.EffectCredit, "50.00"},
		{"a2", model.EffectCredit, "19.99"},
		{"a3", model.EffectDebit, "12.50"},
		{"a2", model.EffectCredit, "19.99"}, // duplicate, must no-op
		{"a4", model.EffectDebit, "0.01"},
		{"a3", model.EffectDebit, "12.50"}, // duplicate, must no-op
	}
	for _, op := range ops {
		var err error
		if op.kind == model.EffectCredit {
			_, err = repo.Credit(ctx, nil, "acc-1", op.attempt, dec(op.amount), "")
		} else {
			_, err = repo.Debit(ctx, nil, "acc-1", op.attempt, dec(op.amount), "")
		}
		if err != nil {
			t.Fatalf("%s %s: %v", op.kind, op.attempt, err)
		}
	}

	acc, _ := repo.Balance(ctx, nil, "acc-1")
	replayed, err := repo.ReplayBalance(ctx, nil, "acc-1")
	if err != nil {
		t.Fatalf("ReplayBalance: %v", err)
	}
	if !replayed.Equal(acc.Balance) {
		t.Errorf("replay %s != cached %s", replayed, acc.Balance)
	}
	if want := dec("57.48"); !acc.Balance.Equal(want) {
		t.Errorf("balance %s, want %s", acc.Balance, want)
	}
}

func TestDebitRetryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewWalletRepo()
	_, _ = repo.Credit(ctx, nil, "acc-1", "topup", dec("40.00"), "")

	first, err := repo.Debit(ctx, nil, "acc-1", "att-1", dec("15.00"), "")
	if err != nil || !first.Applied {
		t.Fatalf("first debit: applied=%v err=%v", first != nil && first.Applied, err)
	}
	retry, err := repo.Debit(ctx, nil, "acc-1", "att-1", dec("15.00"), "")
	if err != nil {
		t.Fatalf("retried debit: %v", err)
	}
	if retry.Applied {
		t.Error("retried debit must not apply twice")
	}
	if !retry.NewBalance.Equal(dec("25.00")) {
		t.Errorf("balance after retry %s, want 25.00", retry.NewBalance)
	}
}
