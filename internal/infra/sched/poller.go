package sched

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"coursepay/internal/infra/redis"
	"coursepay/internal/infra/worker"
	"coursepay/internal/usecase"
)

// Poller drives the status-poll loop for attempts whose providers have no
// webhook, or whose webhook has not arrived yet. It runs server-side: once
// an attempt is tracked, rounds keep firing on the fixed cadence until the
// attempt settles or the round cap times it out, no matter what the client
// that started the payment does. A redis lock keeps replicas from polling
// the same attempt concurrently.
type Poller struct {
	uc       usecase.SettlementUseCase
	pool     *worker.Pool
	locker   redis.Locker
	interval time.Duration
	log      zerolog.Logger

	tracked chan string

	mu      sync.Mutex
	watched map[string]struct{}
}

func NewPoller(uc usecase.SettlementUseCase, pool *worker.Pool, locker redis.Locker, interval time.Duration, log zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{
		uc:       uc,
		pool:     pool,
		locker:   locker,
		interval: interval,
		log:      log.With().Str("component", "poller").Logger(),
		tracked:  make(chan string, 256),
		watched:  make(map[string]struct{}),
	}
}

// Track registers an attempt for polling. Non-blocking; a full queue drops
// the registration and the reconciler sweep picks the attempt up later.
func (p *Poller) Track(attemptID string) {
	select {
	case p.tracked <- attemptID:
	default:
		p.log.Warn().Str("attempt_id", attemptID).Msg("poll queue full, deferring to reconciler")
	}
}

func (p *Poller) Start(ctx context.Context) {
	go p.loop(ctx)
}

// loop owns the watch set. Every tick fans one short-lived round task per
// watched attempt out to the shared pool, so no attempt holds a worker
// between rounds and a slow attempt cannot starve the others.
func (p *Poller) loop(ctx context.Context) {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.tracked:
			p.watch(id)
		case <-t.C:
			p.fanOut()
		}
	}
}

func (p *Poller) watch(attemptID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watched[attemptID] = struct{}{}
}

func (p *Poller) forget(attemptID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.watched, attemptID)
}

func (p *Poller) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.watched))
	for id := range p.watched {
		ids = append(ids, id)
	}
	return ids
}

// fanOut submits one round per watched attempt. A rejected submission keeps
// the attempt watched; the next tick retries it.
func (p *Poller) fanOut() {
	for _, id := range p.snapshot() {
		id := id
		err := p.pool.Submit(func(taskCtx context.Context) error {
			done, err := p.round(taskCtx, id)
			if err != nil {
				return err
			}
			if done {
				p.forget(id)
			}
			return nil
		})
		if err != nil {
			p.log.Warn().Err(err).Str("attempt_id", id).Msg("poll round submission rejected")
		}
	}
}

// round runs one poll under the per-attempt lock. Returns done=true when the
// attempt reached a terminal state.
func (p *Poller) round(ctx context.Context, attemptID string) (bool, error) {
	token, err := p.locker.TryLock(ctx, "poll:"+attemptID, p.interval)
	if err != nil {
		if errors.Is(err, redis.ErrLockHeld) {
			// Another replica owns this round.
			return false, nil
		}
		return false, err
	}
	defer func() { _ = p.locker.Unlock(ctx, "poll:"+attemptID, token) }()

	a, err := p.uc.PollOnce(ctx, attemptID)
	if err != nil {
		p.log.Error().Err(err).Str("attempt_id", attemptID).Msg("poll round failed")
		return true, nil
	}
	return a.State.Terminal(), nil
}
