package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"coursepay/internal/domain"
	"coursepay/internal/domain/model"
	"coursepay/internal/domain/ports/adapter"
	"coursepay/internal/domain/ports/repository"
	"coursepay/internal/usecase"
)

type couponRequest struct {
	Code        string           `json:"code"`
	Type        string           `json:"type"`
	Value       decimal.Decimal  `json:"value"`
	MaxDiscount *decimal.Decimal `json:"max_discount,omitempty"`
}

type initiateRequest struct {
	IdempotencyKey string          `json:"idempotency_key"`
	UserID         string          `json:"user_id"`
	Provider       string          `json:"provider"`
	BaseAmount     decimal.Decimal `json:"base_amount"`
	Coupon         *couponRequest  `json:"coupon,omitempty"`
	SubjectType    string          `json:"subject_type"`
	SubjectID      string          `json:"subject_id"`
}

type initiateResponse struct {
	AttemptID    string          `json:"attempt_id"`
	State        string          `json:"state"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	RedirectURL  string          `json:"redirect_url,omitempty"`
	ClientSecret string          `json:"client_secret,omitempty"`
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	provider, err := model.ParseProvider(req.Provider)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ucReq := usecase.InitiateRequest{
		IdempotencyKey: req.IdempotencyKey,
		UserID:         req.UserID,
		Provider:       provider,
		BaseAmount:     req.BaseAmount,
		SubjectType:    model.SubjectType(req.SubjectType),
		SubjectID:      req.SubjectID,
	}
	if req.Coupon != nil {
		ucReq.Coupon = &model.Coupon{
			Code:          req.Coupon.Code,
			DiscountType:  model.DiscountType(req.Coupon.Type),
			DiscountValue: req.Coupon.Value,
			MaxDiscount:   req.Coupon.MaxDiscount,
		}
	}

	res, err := s.settlementUC.Initiate(r.Context(), ucReq)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, initiateResponse{
		AttemptID:    res.Attempt.ID,
		State:        string(res.Attempt.State),
		Amount:       res.Attempt.Amount,
		Currency:     res.Attempt.Currency,
		RedirectURL:  res.RedirectURL,
		ClientSecret: res.ClientSecret,
	})
}

type statusResponse struct {
	AttemptID     string `json:"attempt_id"`
	State         string `json:"state"`
	FailureReason string `json:"failure_reason,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	attemptID := chi.URLParam(r, "attemptID")
	a, err := s.settlementUC.Status(r.Context(), attemptID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		AttemptID:     a.ID,
		State:         string(a.State),
		FailureReason: a.FailureReason,
	})
}

func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	rc, err := s.settlementUC.Receipt(r.Context(), chi.URLParam(r, "attemptID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rc)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	a, err := s.settlementUC.Cancel(r.Context(), chi.URLParam(r, "attemptID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		AttemptID:     a.ID,
		State:         string(a.State),
		FailureReason: a.FailureReason,
	})
}

// signatureHeaders maps each provider to the transport header its webhook
// signature travels in.
var signatureHeaders = map[model.Provider]string{
	model.ProviderCardDirect:      "Stripe-Signature",
	model.ProviderCardRedirect:    "X-Webhook-Signature",
	model.ProviderGenericRedirect: "X-Webhook-Signature",
	model.ProviderMobilePush:      "X-Webhook-Signature",
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	provider, err := model.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	// The exact transport bytes: signature verification runs over these, so
	// the body must never pass through a JSON decoder first.
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		http.Error(w, "Unable to read body", http.StatusBadRequest)
		return
	}

	_, err = s.settlementUC.HandleWebhook(r.Context(), provider, adapter.WebhookRequest{
		RawBody:   body,
		Signature: r.Header.Get(signatureHeaders[provider]),
	})
	if err != nil {
		if errors.Is(err, domain.ErrSignatureVerification) {
			http.Error(w, "Signature verification failed", http.StatusBadRequest)
			return
		}
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type adjustmentRequest struct {
	Reference   string          `json:"reference"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type adjustmentResponse struct {
	Applied bool            `json:"applied"`
	Balance decimal.Decimal `json:"balance"`
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	s.handleAdjustment(w, r, s.walletUC.Credit)
}

func (s *Server) handleDebit(w http.ResponseWriter, r *http.Request) {
	s.handleAdjustment(w, r, s.walletUC.Debit)
}

type adjustFunc func(ctx context.Context, userID, reference string, amount decimal.Decimal, description string) (*repository.EffectResult, error)

func (s *Server) handleAdjustment(w http.ResponseWriter, r *http.Request, apply adjustFunc) {
	var req adjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	res, err := apply(r.Context(), chi.URLParam(r, "userID"), req.Reference, req.Amount, req.Description)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, adjustmentResponse{Applied: res.Applied, Balance: res.NewBalance})
}

type balanceResponse struct {
	UserID  string          `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	acc, err := s.walletUC.Balance(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{UserID: acc.UserID, Balance: acc.Balance})
}

type auditResponse struct {
	Cached     decimal.Decimal `json:"cached"`
	Replayed   decimal.Decimal `json:"replayed"`
	Consistent bool            `json:"consistent"`
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	res, err := s.walletUC.Audit(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, auditResponse{Cached: res.Cached, Replayed: res.Replayed, Consistent: res.Consistent})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrUnsupportedProvider):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrTerminalState), errors.Is(err, domain.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrInsufficientFunds):
		http.Error(w, "Insufficient funds", http.StatusUnprocessableEntity)
	case errors.Is(err, domain.ErrProviderUnavailable):
		http.Error(w, "Provider unavailable", http.StatusBadGateway)
	case errors.Is(err, domain.ErrInvalidCredentials):
		http.Error(w, "Provider credentials rejected", http.StatusBadGateway)
	default:
		s.log.Error().Err(err).Msg("request failed")
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}
