package model

import (
	"time"

	"github.com/shopspring/decimal"

	"coursepay/internal/domain"
)

// Provider is the closed set of supported payment providers. Anything not
// listed here is rejected by ParseProvider; there is no implicit fallback.
type Provider string

const (
	ProviderCardDirect      Provider = "card-direct"
	ProviderCardRedirect    Provider = "card-redirect"
	ProviderWalletInternal  Provider = "wallet-internal"
	ProviderMobilePush      Provider = "mobile-push"
	ProviderGenericRedirect Provider = "generic-redirect"
)

func ParseProvider(s string) (Provider, error) {
	switch Provider(s) {
	case ProviderCardDirect, ProviderCardRedirect, ProviderWalletInternal,
		ProviderMobilePush, ProviderGenericRedirect:
		return Provider(s), nil
	}
	return "", domain.ErrUnsupportedProvider
}

type AttemptState string

const (
	StateCreated              AttemptState = "created"
	StateInitiating           AttemptState = "initiating"
	StateAwaitingConfirmation AttemptState = "awaiting_confirmation"
	StateSucceeded            AttemptState = "succeeded"
	StateFailed               AttemptState = "failed"
	StateTimedOut             AttemptState = "timed_out"
	StateCancelled            AttemptState = "cancelled"
)

// transitions is the full forward graph of the settlement state machine.
// Terminal states have no outgoing edges. Synchronous-capture providers may
// resolve directly from initiating; a pre-provider rejection (e.g. an
// insufficient internal wallet balance) fails from created.
var transitions = map[AttemptState][]AttemptState{
	StateCreated:              {StateInitiating, StateFailed, StateCancelled},
	StateInitiating:           {StateAwaitingConfirmation, StateSucceeded, StateFailed, StateCancelled},
	StateAwaitingConfirmation: {StateSucceeded, StateFailed, StateTimedOut, StateCancelled},
	StateSucceeded:            {},
	StateFailed:               {},
	StateTimedOut:             {},
	StateCancelled:            {},
}

func (s AttemptState) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateTimedOut, StateCancelled:
		return true
	}
	return false
}

func (s AttemptState) CanTransition(next AttemptState) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// SubjectType says what a payment attempt pays for.
type SubjectType string

const (
	SubjectCoursePurchase SubjectType = "course_purchase"
	SubjectWalletTopUp    SubjectType = "wallet_topup"
)

// PaymentAttempt records one purchase-to-payment cycle. Attempts are never
// deleted; once terminal they are immutable and kept for audit.
type PaymentAttempt struct {
	ID                string // client-supplied idempotency key accepted
	UserID            string
	Provider          Provider
	Amount            decimal.Decimal // settlement currency, minor-unit safe
	Currency          string
	SubjectType       SubjectType
	SubjectID         string
	State             AttemptState
	ProviderReference string // assigned by the provider, empty until then
	FailureReason     string
	Attempts          int // poll counter
	CreatedAt         time.Time
	UpdatedAt         time.Time
	TerminalAt        *time.Time
}

func NewPaymentAttempt(id, userID string, provider Provider, amount decimal.Decimal, currency string, subjectType SubjectType, subjectID string) *PaymentAttempt {
	now := time.Now().UTC()
	return &PaymentAttempt{
		ID:          id,
		UserID:      userID,
		Provider:    provider,
		Amount:      amount,
		Currency:    currency,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		State:       StateCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Transition moves the attempt forward through the state machine. It refuses
// to leave a terminal state and refuses edges not in the graph.
func (a *PaymentAttempt) Transition(next AttemptState) error {
	if a.State.Terminal() {
		return domain.ErrTerminalState
	}
	if !a.State.CanTransition(next) {
		return domain.ErrInvalidTransition
	}
	a.State = next
	a.UpdatedAt = time.Now().UTC()
	if next.Terminal() {
		t := a.UpdatedAt
		a.TerminalAt = &t
	}
	return nil
}

// Receipt is the shape returned for every terminal outcome. Failures carry a
// human-readable reason because the UI renders them as receipt cards too.
type Receipt struct {
	AttemptID     string          `json:"attemptId"`
	State         AttemptState    `json:"state"`
	Provider      Provider        `json:"provider"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	ProviderRef   string          `json:"providerRef,omitempty"`
	FailureReason string          `json:"failureReason,omitempty"`
	CompletedAt   time.Time       `json:"completedAt"`
}

func (a *PaymentAttempt) Receipt() *Receipt {
	r := &Receipt{
		AttemptID:     a.ID,
		State:         a.State,
		Provider:      a.Provider,
		Amount:        a.Amount,
		Currency:      a.Currency,
		ProviderRef:   a.ProviderReference,
		FailureReason: a.FailureReason,
	}
	if a.TerminalAt != nil {
		r.CompletedAt = *a.TerminalAt
	}
	return r
}
