package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"coursepay/internal/domain/ports/repository"
	"coursepay/internal/usecase"
)

// Reconciler periodically sweeps attempts stuck in the confirmation phase
// and re-drives a poll round for each. It covers the gaps the live poll loop
// cannot: lost webhooks, a crashed process mid-settlement, or a poll queue
// that was full when the attempt started.
type Reconciler struct {
	uc         usecase.SettlementUseCase
	attempts   repository.PaymentAttemptRepository
	interval   time.Duration // how often to sweep
	staleAfter time.Duration // how old a pending attempt must be to retry
	log        zerolog.Logger
}

func NewReconciler(uc usecase.SettlementUseCase, attempts repository.PaymentAttemptRepository, interval, staleAfter time.Duration, log zerolog.Logger) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	return &Reconciler{
		uc:         uc,
		attempts:   attempts,
		interval:   interval,
		staleAfter: staleAfter,
		log:        log.With().Str("component", "reconciler").Logger(),
	}
}

func (w *Reconciler) Start(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.tick(ctx)
		}
	}
}

func (w *Reconciler) tick(ctx context.Context) {
	cutoff := time.Now().Add(-w.staleAfter)
	stale, err := w.attempts.ListAwaitingConfirmation(ctx, nil, cutoff, 200)
	if err != nil {
		w.log.Error().Err(err).Msg("list stale attempts failed")
		return
	}
	for _, a := range stale {
		if a.ProviderReference == "" {
			continue
		}
		res, err := w.uc.PollOnce(ctx, a.ID)
		if err != nil {
			w.log.Warn().Err(err).Str("attempt_id", a.ID).Msg("reconcile poll failed")
			continue
		}
		if res.State.Terminal() {
			w.log.Info().Str("attempt_id", a.ID).Str("state", string(res.State)).Msg("reconciled attempt")
		}
	}
}
