package sched

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"coursepay/internal/domain/model"
	"coursepay/internal/domain/ports/adapter"
	"coursepay/internal/infra/db/memory"
	"coursepay/internal/infra/redis"
	"coursepay/internal/infra/worker"
	"coursepay/internal/usecase"
)

type mockSettlementUC struct {
	PollOnceFunc func(ctx context.Context, attemptID string) (*model.PaymentAttempt, error)

	mu     sync.Mutex
	polled []string
}

func (m *mockSettlementUC) PollOnce(ctx context.Context, attemptID string) (*model.PaymentAttempt, error) {
	m.mu.Lock()
	m.polled = append(m.polled, attemptID)
	m.mu.Unlock()
	return m.PollOnceFunc(ctx, attemptID)
}

func (m *mockSettlementUC) pollCounts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, id := range m.polled {
		counts[id]++
	}
	return counts
}

func (m *mockSettlementUC) Initiate(context.Context, usecase.InitiateRequest) (*usecase.InitiateResponse, error) {
	panic("not used")
}
func (m *mockSettlementUC) HandleWebhook(context.Context, model.Provider, adapter.WebhookRequest) (*model.PaymentAttempt, error) {
	panic("not used")
}
func (m *mockSettlementUC) Status(context.Context, string) (*model.PaymentAttempt, error) {
	panic("not used")
}
func (m *mockSettlementUC) Cancel(context.Context, string) (*model.PaymentAttempt, error) {
	panic("not used")
}
func (m *mockSettlementUC) Receipt(context.Context, string) (*model.Receipt, error) {
	panic("not used")
}

type fakeLocker struct {
	held map[string]bool
}

func (l *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (string, error) {
	if l.held[key] {
		return "", redis.ErrLockHeld
	}
	return "token", nil
}

func (l *fakeLocker) Unlock(_ context.Context, _, _ string) error { return nil }

func staleAttempt(id string, ref string, age time.Duration) *model.PaymentAttempt {
	a := model.NewPaymentAttempt(id, "user-1", model.ProviderCardRedirect,
		decimal.NewFromInt(10), "USD", model.SubjectCoursePurchase, "course-1")
	a.State = model.StateAwaitingConfirmation
	a.ProviderReference = ref
	a.UpdatedAt = time.Now().Add(-age)
	return a
}

func TestReconcilerTick(t *testing.T) {
	ctx := context.Background()
	attempts := memory.NewAttemptRepo()

	if err := attempts.Save(ctx, nil, staleAttempt("stale-1", "ref-1", time.Hour)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := attempts.Save(ctx, nil, staleAttempt("stale-no-ref", "", time.Hour)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := attempts.Save(ctx, nil, staleAttempt("fresh-1", "ref-2", time.Second)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	uc := &mockSettlementUC{
		PollOnceFunc: func(_ context.Context, id string) (*model.PaymentAttempt, error) {
			a := staleAttempt(id, "ref", time.Hour)
			a.State = model.StateSucceeded
			return a, nil
		},
	}
	rec := NewReconciler(uc, attempts, time.Minute, 10*time.Minute, zerolog.Nop())
	rec.tick(ctx)

	if len(uc.polled) != 1 || uc.polled[0] != "stale-1" {
		t.Errorf("polled = %v, want [stale-1]", uc.polled)
	}
}

func TestPollerRound(t *testing.T) {
	ctx := context.Background()

	t.Run("held lock skips the round", func(t *testing.T) {
		uc := &mockSettlementUC{
			PollOnceFunc: func(_ context.Context, id string) (*model.PaymentAttempt, error) {
				t.Fatal("PollOnce must not run under a held lock")
				return nil, nil
			},
		}
		p := NewPoller(uc, worker.NewPool(1), &fakeLocker{held: map[string]bool{"poll:att-1": true}}, time.Second, zerolog.Nop())
		done, err := p.round(ctx, "att-1")
		if err != nil {
			t.Fatalf("round() error = %v", err)
		}
		if done {
			t.Error("skipped round must not finish the loop")
		}
	})

	t.Run("terminal state ends the loop", func(t *testing.T) {
		uc := &mockSettlementUC{
			PollOnceFunc: func(_ context.Context, id string) (*model.PaymentAttempt, error) {
				a := staleAttempt(id, "ref", 0)
				a.State = model.StateTimedOut
				return a, nil
			},
		}
		p := NewPoller(uc, worker.NewPool(1), &fakeLocker{held: map[string]bool{}}, time.Second, zerolog.Nop())
		done, err := p.round(ctx, "att-1")
		if err != nil {
			t.Fatalf("round() error = %v", err)
		}
		if !done {
			t.Error("terminal attempt must end the loop")
		}
	})

	t.Run("pending state keeps the loop running", func(t *testing.T) {
		uc := &mockSettlementUC{
			PollOnceFunc: func(_ context.Context, id string) (*model.PaymentAttempt, error) {
				return staleAttempt(id, "ref", 0), nil
			},
		}
		p := NewPoller(uc, worker.NewPool(1), &fakeLocker{held: map[string]bool{}}, time.Second, zerolog.Nop())
		done, err := p.round(ctx, "att-1")
		if err != nil {
			t.Fatalf("round() error = %v", err)
		}
		if done {
			t.Error("pending attempt must keep polling")
		}
	})
}

func TestPollerFanOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	t.Run("one slow-free worker still reaches every watched attempt", func(t *testing.T) {
		uc := &mockSettlementUC{
			PollOnceFunc: func(_ context.Context, id string) (*model.PaymentAttempt, error) {
				return staleAttempt(id, "ref", 0), nil // stays pending
			},
		}
		pool := worker.NewPool(1)
		pool.Start(ctx)
		defer pool.Stop()

		p := NewPoller(uc, pool, &fakeLocker{held: map[string]bool{}}, time.Second, zerolog.Nop())
		p.watch("att-1")
		p.watch("att-2")
		p.fanOut()

		deadline := time.After(2 * time.Second)
		for {
			counts := uc.pollCounts()
			if counts["att-1"] > 0 && counts["att-2"] > 0 {
				break
			}
			select {
			case <-deadline:
				t.Fatalf("polled = %v, want both attempts", counts)
			case <-time.After(5 * time.Millisecond):
			}
		}
	})

	t.Run("terminal attempt leaves the watch set", func(t *testing.T) {
		uc := &mockSettlementUC{
			PollOnceFunc: func(_ context.Context, id string) (*model.PaymentAttempt, error) {
				a := staleAttempt(id, "ref", 0)
				a.State = model.StateSucceeded
				return a, nil
			},
		}
		pool := worker.NewPool(1)
		pool.Start(ctx)
		defer pool.Stop()

		p := NewPoller(uc, pool, &fakeLocker{held: map[string]bool{}}, time.Second, zerolog.Nop())
		p.watch("att-1")
		p.fanOut()

		deadline := time.After(2 * time.Second)
		for len(p.snapshot()) != 0 {
			select {
			case <-deadline:
				t.Fatalf("watch set = %v, want empty", p.snapshot())
			case <-time.After(5 * time.Millisecond):
			}
		}
	})
}
