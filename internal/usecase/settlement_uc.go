// File: internal/usecase/settlement_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"coursepay/internal/domain"
	"coursepay/internal/domain/model"
	"coursepay/internal/domain/ports/adapter"
	"coursepay/internal/domain/ports/repository"
	"coursepay/internal/infra/gateway"
	"coursepay/internal/infra/metrics"
	infraRedis "coursepay/internal/infra/redis"
)

// Compile-time check
var _ SettlementUseCase = (*settlementUC)(nil)

// InitiateRequest describes a payment to start. IdempotencyKey doubles as
// the attempt id: replays with the same key return the same attempt instead
// of charging twice.
type InitiateRequest struct {
	IdempotencyKey string
	UserID         string
	Provider       model.Provider
	BaseAmount     decimal.Decimal
	Coupon         *model.Coupon
	SubjectType    model.SubjectType
	SubjectID      string
}

// InitiateResponse carries whatever the provider family needs next:
// RedirectURL for redirect flows, ClientSecret for card-direct, neither for
// push and wallet flows.
type InitiateResponse struct {
	Attempt      *model.PaymentAttempt
	RedirectURL  string
	ClientSecret string
}

type SettlementUseCase interface {
	// Initiate computes the final amount, records the attempt and starts it
	// with the provider. Idempotent by request key.
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error)

	// HandleWebhook verifies and applies an asynchronous provider
	// notification. The raw body must be the exact transport bytes.
	HandleWebhook(ctx context.Context, provider model.Provider, req adapter.WebhookRequest) (*model.PaymentAttempt, error)

	// PollOnce runs one status-poll round for an attempt and returns its
	// (possibly updated) state. After the round cap the attempt times out.
	PollOnce(ctx context.Context, attemptID string) (*model.PaymentAttempt, error)

	// Status is the read path for status pages. Served from cache when warm.
	Status(ctx context.Context, attemptID string) (*model.PaymentAttempt, error)

	// Cancel moves a not-yet-started attempt to cancelled.
	Cancel(ctx context.Context, attemptID string) (*model.PaymentAttempt, error)

	// Receipt returns the immutable receipt of a terminal attempt.
	Receipt(ctx context.Context, attemptID string) (*model.Receipt, error)
}

// AttemptTracker registers in-flight attempts for background status polling.
// The scheduler implements it; nil means nobody polls (tests, webhook-only
// deployments).
type AttemptTracker interface {
	Track(attemptID string)
}

type settlementUC struct {
	attempts repository.PaymentAttemptRepository
	wallets  repository.WalletRepository
	txm      repository.TransactionManager
	registry *gateway.Registry
	cache    *infraRedis.StatusCache
	tracker  AttemptTracker

	currency        string
	platformAccount string
	pollCap         int
	log             zerolog.Logger
}

func NewSettlementUseCase(
	attempts repository.PaymentAttemptRepository,
	wallets repository.WalletRepository,
	txm repository.TransactionManager,
	registry *gateway.Registry,
	cache *infraRedis.StatusCache,
	currency, platformAccount string,
	pollCap int,
	log zerolog.Logger,
) *settlementUC {
	return &settlementUC{
		attempts:        attempts,
		wallets:         wallets,
		txm:             txm,
		registry:        registry,
		cache:           cache,
		currency:        currency,
		platformAccount: platformAccount,
		pollCap:         pollCap,
		log:             log.With().Str("component", "settlement").Logger(),
	}
}

// SetTracker attaches the background poll driver. Attempts that reach
// awaiting_confirmation after this call are handed to it.
func (u *settlementUC) SetTracker(t AttemptTracker) { u.tracker = t }

func (u *settlementUC) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	if req.UserID == "" || req.SubjectID == "" {
		return nil, fmt.Errorf("%w: user and subject are required", domain.ErrInvalidArgument)
	}
	if req.BaseAmount.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount", domain.ErrInvalidArgument)
	}
	gw, err := u.registry.Get(req.Provider)
	if err != nil {
		return nil, err
	}

	id := req.IdempotencyKey
	if id == "" {
		id = uuid.NewString()
	}

	// Replay: the same key returns the existing attempt without touching the
	// provider again.
	if existing, err := u.attempts.FindByID(ctx, nil, id); err == nil {
		u.log.Debug().Str("attempt_id", id).Msg("initiate replayed")
		return &InitiateResponse{Attempt: existing}, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	final := model.ComputeFinalAmount(req.BaseAmount, req.Coupon)
	a := model.NewPaymentAttempt(id, req.UserID, req.Provider, final, u.currency, req.SubjectType, req.SubjectID)
	if err := u.attempts.Save(ctx, nil, a); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			// Lost a concurrent replay race; serve the winner's row.
			return u.replayExisting(ctx, id)
		}
		return nil, err
	}
	metrics.IncAttempt(string(a.Provider), string(model.StateCreated))

	if err := a.Transition(model.StateInitiating); err != nil {
		return nil, err
	}
	if err := u.attempts.Save(ctx, nil, a); err != nil {
		return nil, err
	}

	res, err := gw.Initiate(ctx, a)
	if err != nil {
		// No provider reference exists yet, so there is nothing for the
		// reconciler to pick up later. Any initiation fault fails the attempt;
		// the caller retries with a fresh key.
		_ = u.finalizeTo(ctx, a.ID, model.StateFailed, "", err.Error())
		return nil, err
	}

	if res.ProviderRef != "" {
		a.ProviderReference = res.ProviderRef
	}

	if res.Terminal != nil {
		// Synchronous capture or decline (wallet, instantly settled card).
		if err := u.finalize(ctx, a.ID, res.Terminal); err != nil {
			return nil, err
		}
		settled, err := u.attempts.FindByID(ctx, nil, a.ID)
		if err != nil {
			return nil, err
		}
		return &InitiateResponse{Attempt: settled}, nil
	}

	if err := a.Transition(model.StateAwaitingConfirmation); err != nil {
		return nil, err
	}
	if err := u.attempts.Save(ctx, nil, a); err != nil {
		return nil, err
	}
	metrics.IncAttempt(string(a.Provider), string(model.StateAwaitingConfirmation))
	u.putStatus(ctx, a)
	if u.tracker != nil {
		u.tracker.Track(a.ID)
	}

	return &InitiateResponse{
		Attempt:      a,
		RedirectURL:  res.RedirectURL,
		ClientSecret: res.ClientSecret,
	}, nil
}

func (u *settlementUC) replayExisting(ctx context.Context, id string) (*InitiateResponse, error) {
	existing, err := u.attempts.FindByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	return &InitiateResponse{Attempt: existing}, nil
}

func (u *settlementUC) HandleWebhook(ctx context.Context, provider model.Provider, req adapter.WebhookRequest) (*model.PaymentAttempt, error) {
	gw, err := u.registry.Get(provider)
	if err != nil {
		return nil, err
	}
	out, err := gw.Confirm(ctx, req)
	if err != nil {
		return nil, err
	}
	if out.Status == adapter.OutcomePending {
		// Informational event; nothing to settle.
		if out.AttemptID != "" {
			return u.attempts.FindByID(ctx, nil, out.AttemptID)
		}
		return nil, nil
	}

	id := out.AttemptID
	if id == "" {
		a, err := u.attempts.FindByProviderRef(ctx, nil, out.ProviderRef)
		if err != nil {
			return nil, err
		}
		id = a.ID
	}
	if err := u.finalize(ctx, id, out); err != nil {
		return nil, err
	}
	return u.attempts.FindByID(ctx, nil, id)
}

func (u *settlementUC) PollOnce(ctx context.Context, attemptID string) (*model.PaymentAttempt, error) {
	a, err := u.attempts.FindByID(ctx, nil, attemptID)
	if err != nil {
		return nil, err
	}
	if a.State.Terminal() {
		return a, nil
	}
	gw, err := u.registry.Get(a.Provider)
	if err != nil {
		return nil, err
	}

	rounds, err := u.attempts.IncrementAttempts(ctx, nil, a.ID)
	if err != nil {
		return nil, err
	}

	out, err := gw.CheckStatus(ctx, a.ProviderReference)
	if err != nil {
		// Transient and ambiguous faults leave the attempt pending; the next
		// round or the webhook settles it.
		if errors.Is(err, domain.ErrProviderUnavailable) || errors.Is(err, domain.ErrProviderAmbiguous) {
			metrics.IncPollRound(string(a.Provider), "unavailable")
			u.log.Warn().Err(err).Str("attempt_id", a.ID).Msg("poll round absorbed provider fault")
			return u.timeoutWhenCapped(ctx, a, rounds)
		}
		return nil, err
	}
	if out.Status == adapter.OutcomePending {
		metrics.IncPollRound(string(a.Provider), "pending")
		return u.timeoutWhenCapped(ctx, a, rounds)
	}
	metrics.IncPollRound(string(a.Provider), string(out.Status))
	out.AttemptID = a.ID
	if err := u.finalize(ctx, a.ID, out); err != nil {
		return nil, err
	}
	return u.attempts.FindByID(ctx, nil, a.ID)
}

// timeoutWhenCapped closes the confirmation window once the round that just
// ran was the last allowed one, so the cap-th pending answer already times
// the attempt out instead of granting it one more cadence.
func (u *settlementUC) timeoutWhenCapped(ctx context.Context, a *model.PaymentAttempt, rounds int) (*model.PaymentAttempt, error) {
	if rounds < u.pollCap {
		return a, nil
	}
	metrics.IncPollRound(string(a.Provider), "timed_out")
	if err := u.finalizeTo(ctx, a.ID, model.StateTimedOut, "", "confirmation window elapsed"); err != nil {
		return nil, err
	}
	return u.attempts.FindByID(ctx, nil, a.ID)
}

func (u *settlementUC) Status(ctx context.Context, attemptID string) (*model.PaymentAttempt, error) {
	if u.cache != nil {
		if st, ok := u.cache.Get(ctx, attemptID); ok {
			return &model.PaymentAttempt{
				ID:            attemptID,
				State:         model.AttemptState(st.State),
				FailureReason: st.FailureReason,
			}, nil
		}
	}
	a, err := u.attempts.FindByID(ctx, nil, attemptID)
	if err != nil {
		return nil, err
	}
	u.putStatus(ctx, a)
	return a, nil
}

func (u *settlementUC) Cancel(ctx context.Context, attemptID string) (*model.PaymentAttempt, error) {
	a, err := u.attempts.FindByID(ctx, nil, attemptID)
	if err != nil {
		return nil, err
	}
	if a.State.Terminal() {
		return nil, domain.ErrTerminalState
	}
	if !a.State.CanTransition(model.StateCancelled) {
		return nil, fmt.Errorf("%w: cannot cancel from %s", domain.ErrInvalidTransition, a.State)
	}
	now := time.Now()
	won, err := u.attempts.UpdateStateIfActive(ctx, nil, a.ID, model.StateCancelled, "", "cancelled by user", &now)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, domain.ErrTerminalState
	}
	metrics.IncAttempt(string(a.Provider), string(model.StateCancelled))
	if u.cache != nil {
		u.cache.Evict(ctx, a.ID)
	}
	return u.attempts.FindByID(ctx, nil, a.ID)
}

func (u *settlementUC) Receipt(ctx context.Context, attemptID string) (*model.Receipt, error) {
	a, err := u.attempts.FindByID(ctx, nil, attemptID)
	if err != nil {
		return nil, err
	}
	if !a.State.Terminal() {
		return nil, fmt.Errorf("%w: receipt requires a settled attempt", domain.ErrOperationFailed)
	}
	return a.Receipt(), nil
}

// finalize is the single funnel every terminal signal goes through: webhook,
// poll, timeout, synchronous capture and cancellation all land here. The
// conditional state update decides the winner; ledger effects run only for
// the winning signal and are themselves idempotent by (account, attempt,
// kind), so even a double finalize cannot double-credit.
func (u *settlementUC) finalize(ctx context.Context, attemptID string, out *adapter.Outcome) error {
	target := model.StateFailed
	reason := out.Message
	if out.Status == adapter.OutcomeSucceeded {
		target = model.StateSucceeded
		reason = ""
	}
	return u.finalizeTo(ctx, attemptID, target, out.ProviderRef, reason)
}

func (u *settlementUC) finalizeTo(ctx context.Context, attemptID string, target model.AttemptState, providerRef, reason string) error {
	return u.txm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		a, err := u.attempts.FindByID(ctx, tx, attemptID)
		if err != nil {
			return err
		}

		now := time.Now()
		won, err := u.attempts.UpdateStateIfActive(ctx, tx, a.ID, target, providerRef, reason, &now)
		if err != nil {
			return err
		}
		if !won {
			u.log.Debug().Str("attempt_id", a.ID).Str("signal", string(target)).
				Msg("late settlement signal discarded")
			return nil
		}
		metrics.IncAttempt(string(a.Provider), string(target))

		if target == model.StateSucceeded {
			if err := u.applySettlementEffect(ctx, tx, a); err != nil {
				return err
			}
			metrics.AddRevenue(a.Currency, a.Amount.InexactFloat64())
		}

		if u.cache != nil {
			u.cache.Put(ctx, a.ID, infraRedis.AttemptStatus{State: string(target), FailureReason: reason})
		}
		u.log.Info().Str("attempt_id", a.ID).Str("provider", string(a.Provider)).
			Str("state", string(target)).Str("amount", a.Amount.String()).Msg("attempt settled")
		return nil
	})
}

// applySettlementEffect moves money for a successful attempt. Top-ups credit
// the payer's wallet; external purchases credit the platform revenue
// account. Wallet purchases already debited at initiation, so success adds
// nothing.
func (u *settlementUC) applySettlementEffect(ctx context.Context, tx repository.Tx, a *model.PaymentAttempt) error {
	switch {
	case a.SubjectType == model.SubjectWalletTopUp:
		res, err := u.wallets.Credit(ctx, tx, a.UserID, a.ID, a.Amount, "wallet topup")
		if err != nil {
			return err
		}
		metrics.IncLedgerEffect("credit", res.Applied)
	case a.Provider != model.ProviderWalletInternal:
		res, err := u.wallets.Credit(ctx, tx, u.platformAccount, a.ID, a.Amount, "purchase "+a.SubjectID)
		if err != nil {
			return err
		}
		metrics.IncLedgerEffect("credit", res.Applied)
	}
	return nil
}

func (u *settlementUC) putStatus(ctx context.Context, a *model.PaymentAttempt) {
	if u.cache == nil {
		return
	}
	u.cache.Put(ctx, a.ID, infraRedis.AttemptStatus{State: string(a.State), FailureReason: a.FailureReason})
}
