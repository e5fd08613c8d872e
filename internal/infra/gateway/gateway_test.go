package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"

	"coursepay/internal/domain"
	"coursepay/internal/domain/model"
	"coursepay/internal/domain/ports/adapter"
	"coursepay/internal/infra/db/memory"
)

type mockCredentialSource struct {
	ValueFunc func(ctx context.Context, key, fallbackEnv string) (string, error)
}

func (m *mockCredentialSource) Value(ctx context.Context, key, fallbackEnv string) (string, error) {
	return m.ValueFunc(ctx, key, fallbackEnv)
}

func staticCreds(values map[string]string) *mockCredentialSource {
	return &mockCredentialSource{
		ValueFunc: func(_ context.Context, key, _ string) (string, error) {
			v, ok := values[key]
			if !ok {
				return "", domain.ErrNotFound
			}
			return v, nil
		},
	}
}

func testAttempt(provider model.Provider, amount string) *model.PaymentAttempt {
	amt, _ := decimal.NewFromString(amount)
	return &model.PaymentAttempt{
		ID:          "att-1",
		UserID:      "user-1",
		Provider:    provider,
		Amount:      amt,
		Currency:    "USD",
		SubjectType: model.SubjectCoursePurchase,
		SubjectID:   "course-9",
		State:       model.StateCreated,
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(NewCardRedirectGateway("http://x", "http://cb", "mk", "wk", staticCreds(nil)))

	t.Run("registered provider resolves", func(t *testing.T) {
		gw, err := reg.Get(model.ProviderCardRedirect)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if gw.Name() != model.ProviderCardRedirect {
			t.Errorf("Name() = %q", gw.Name())
		}
	})

	t.Run("unknown provider is rejected", func(t *testing.T) {
		if _, err := reg.Get(model.ProviderMobilePush); !errors.Is(err, domain.ErrUnsupportedProvider) {
			t.Errorf("Get() error = %v, want ErrUnsupportedProvider", err)
		}
	})
}

func TestWebhookSignature(t *testing.T) {
	body := []byte(`{"reference":"att-1","status":"paid"}`)
	secret := "whsec_test"

	t.Run("signed body verifies", func(t *testing.T) {
		sig := SignWebhookBody(secret, body)
		if !VerifyWebhookSignature(secret, body, sig) {
			t.Error("valid signature rejected")
		}
	})

	t.Run("tampered body is rejected", func(t *testing.T) {
		sig := SignWebhookBody(secret, body)
		tampered := []byte(`{"reference":"att-2","status":"paid"}`)
		if VerifyWebhookSignature(secret, tampered, sig) {
			t.Error("tampered body verified")
		}
	})

	t.Run("empty signature never verifies", func(t *testing.T) {
		if VerifyWebhookSignature(secret, body, "") {
			t.Error("empty signature verified")
		}
	})

	t.Run("uppercase hex is accepted", func(t *testing.T) {
		sig := SignWebhookBody(secret, body)
		upper := ""
		for _, r := range sig {
			if r >= 'a' && r <= 'f' {
				r = r - 'a' + 'A'
			}
			upper += string(r)
		}
		if !VerifyWebhookSignature(secret, body, upper) {
			t.Error("uppercase signature rejected")
		}
	})
}

func TestRedirectGatewayInitiate(t *testing.T) {
	t.Run("returns authority and redirect url", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/payment/request" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			var req map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req["merchant_id"] != "mid-42" {
				t.Errorf("merchant_id = %v", req["merchant_id"])
			}
			if req["amount"] != "49.99" {
				t.Errorf("amount = %v", req["amount"])
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": 100, "authority": "A-001"})
		}))
		defer srv.Close()

		gw := NewCardRedirectGateway(srv.URL, "http://cb", "merchant_key", "wh_key", staticCreds(map[string]string{"merchant_key": "mid-42"}))
		res, err := gw.Initiate(context.Background(), testAttempt(model.ProviderCardRedirect, "49.99"))
		if err != nil {
			t.Fatalf("Initiate() error = %v", err)
		}
		if res.ProviderRef != "A-001" {
			t.Errorf("ProviderRef = %q", res.ProviderRef)
		}
		if res.RedirectURL != srv.URL+"/payment/start/A-001" {
			t.Errorf("RedirectURL = %q", res.RedirectURL)
		}
		if res.Terminal != nil {
			t.Error("redirect initiation must not be terminal")
		}
	})

	t.Run("non-100 code is a rejection", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": -11, "message": "invalid merchant"})
		}))
		defer srv.Close()

		gw := NewGenericRedirectGateway(srv.URL, "http://cb", "merchant_key", "wh_key", staticCreds(map[string]string{"merchant_key": "mid-42"}))
		if _, err := gw.Initiate(context.Background(), testAttempt(model.ProviderGenericRedirect, "10")); !errors.Is(err, domain.ErrProviderRejected) {
			t.Errorf("Initiate() error = %v, want ErrProviderRejected", err)
		}
	})

	t.Run("5xx means provider unavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		gw := NewCardRedirectGateway(srv.URL, "http://cb", "merchant_key", "wh_key", staticCreds(map[string]string{"merchant_key": "mid-42"}))
		if _, err := gw.Initiate(context.Background(), testAttempt(model.ProviderCardRedirect, "10")); !errors.Is(err, domain.ErrProviderUnavailable) {
			t.Errorf("Initiate() error = %v, want ErrProviderUnavailable", err)
		}
	})

	t.Run("401 means invalid credentials", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		gw := NewCardRedirectGateway(srv.URL, "http://cb", "merchant_key", "wh_key", staticCreds(map[string]string{"merchant_key": "mid-42"}))
		if _, err := gw.Initiate(context.Background(), testAttempt(model.ProviderCardRedirect, "10")); !errors.Is(err, domain.ErrInvalidCredentials) {
			t.Errorf("Initiate() error = %v, want ErrInvalidCredentials", err)
		}
	})
}

func TestRedirectGatewayConfirm(t *testing.T) {
	creds := staticCreds(map[string]string{"wh_key": "secret-1"})
	gw := NewCardRedirectGateway("http://unused", "http://cb", "merchant_key", "wh_key", creds)

	body := []byte(`{"authority":"A-001","reference":"att-1","status":"paid"}`)

	t.Run("valid signature yields succeeded outcome", func(t *testing.T) {
		out, err := gw.Confirm(context.Background(), adapter.WebhookRequest{
			RawBody:   body,
			Signature: SignWebhookBody("secret-1", body),
		})
		if err != nil {
			t.Fatalf("Confirm() error = %v", err)
		}
		if out.Status != adapter.OutcomeSucceeded {
			t.Errorf("Status = %v", out.Status)
		}
		if out.AttemptID != "att-1" || out.ProviderRef != "A-001" {
			t.Errorf("outcome = %+v", out)
		}
	})

	t.Run("bad signature is rejected before parsing", func(t *testing.T) {
		_, err := gw.Confirm(context.Background(), adapter.WebhookRequest{
			RawBody:   body,
			Signature: SignWebhookBody("wrong-secret", body),
		})
		if !errors.Is(err, domain.ErrSignatureVerification) {
			t.Errorf("Confirm() error = %v, want ErrSignatureVerification", err)
		}
	})

	t.Run("failed status maps to failed outcome", func(t *testing.T) {
		failed := []byte(`{"authority":"A-002","reference":"att-2","status":"declined","message":"card declined"}`)
		out, err := gw.Confirm(context.Background(), adapter.WebhookRequest{
			RawBody:   failed,
			Signature: SignWebhookBody("secret-1", failed),
		})
		if err != nil {
			t.Fatalf("Confirm() error = %v", err)
		}
		if out.Status != adapter.OutcomeFailed {
			t.Errorf("Status = %v", out.Status)
		}
		if out.Message != "card declined" {
			t.Errorf("Message = %q", out.Message)
		}
	})
}

func TestMobilePushGateway(t *testing.T) {
	creds := staticCreds(map[string]string{"api_key": "ck-1", "wh_key": "secret-2"})

	t.Run("initiate carries no redirect", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("Authorization"); got != "Bearer ck-1" {
				t.Errorf("Authorization = %q", got)
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"response_code": "0", "checkout_id": "chk-7"})
		}))
		defer srv.Close()

		gw := NewMobilePushGateway(srv.URL, "5001", "api_key", "wh_key", creds)
		res, err := gw.Initiate(context.Background(), testAttempt(model.ProviderMobilePush, "12.00"))
		if err != nil {
			t.Fatalf("Initiate() error = %v", err)
		}
		if res.ProviderRef != "chk-7" {
			t.Errorf("ProviderRef = %q", res.ProviderRef)
		}
		if res.RedirectURL != "" || res.Terminal != nil {
			t.Error("push initiation must be pending with no redirect")
		}
	})

	t.Run("status with no result code is pending", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"result_desc": "awaiting customer"})
		}))
		defer srv.Close()

		gw := NewMobilePushGateway(srv.URL, "5001", "api_key", "wh_key", creds)
		out, err := gw.CheckStatus(context.Background(), "chk-7")
		if err != nil {
			t.Fatalf("CheckStatus() error = %v", err)
		}
		if out.Status != adapter.OutcomePending {
			t.Errorf("Status = %v, want pending", out.Status)
		}
	})

	t.Run("nonzero result code fails the attempt", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"result_code": 1032, "result_desc": "request cancelled by user", "reference": "att-1"})
		}))
		defer srv.Close()

		gw := NewMobilePushGateway(srv.URL, "5001", "api_key", "wh_key", creds)
		out, err := gw.CheckStatus(context.Background(), "chk-7")
		if err != nil {
			t.Fatalf("CheckStatus() error = %v", err)
		}
		if out.Status != adapter.OutcomeFailed {
			t.Errorf("Status = %v, want failed", out.Status)
		}
	})

	t.Run("webhook result code zero succeeds", func(t *testing.T) {
		gw := NewMobilePushGateway("http://unused", "5001", "api_key", "wh_key", creds)
		body := []byte(`{"checkout_id":"chk-7","reference":"att-1","result_code":0,"result_desc":"processed"}`)
		out, err := gw.Confirm(context.Background(), adapter.WebhookRequest{
			RawBody:   body,
			Signature: SignWebhookBody("secret-2", body),
		})
		if err != nil {
			t.Fatalf("Confirm() error = %v", err)
		}
		if out.Status != adapter.OutcomeSucceeded || out.AttemptID != "att-1" {
			t.Errorf("outcome = %+v", out)
		}
	})
}

func TestWalletGateway(t *testing.T) {
	ctx := context.Background()

	t.Run("initiate debits and settles synchronously", func(t *testing.T) {
		wallets := memory.NewWalletRepo()
		txm := memory.NewTxManager()
		if _, err := wallets.Credit(ctx, nil, "user-1", "topup-1", decimal.NewFromInt(100), "topup"); err != nil {
			t.Fatalf("seed credit: %v", err)
		}

		gw := NewWalletGateway(wallets, txm)
		res, err := gw.Initiate(ctx, testAttempt(model.ProviderWalletInternal, "49.99"))
		if err != nil {
			t.Fatalf("Initiate() error = %v", err)
		}
		if res.Terminal == nil || res.Terminal.Status != adapter.OutcomeSucceeded {
			t.Fatalf("Terminal = %+v, want synchronous success", res.Terminal)
		}

		acc, err := wallets.Balance(ctx, nil, "user-1")
		if err != nil {
			t.Fatalf("Balance() error = %v", err)
		}
		if !acc.Balance.Equal(decimal.RequireFromString("50.01")) {
			t.Errorf("balance = %s, want 50.01", acc.Balance)
		}
	})

	t.Run("insufficient funds is a terminal failure, not an error", func(t *testing.T) {
		wallets := memory.NewWalletRepo()
		gw := NewWalletGateway(wallets, memory.NewTxManager())

		res, err := gw.Initiate(ctx, testAttempt(model.ProviderWalletInternal, "10.00"))
		if err != nil {
			t.Fatalf("Initiate() error = %v", err)
		}
		if res.Terminal == nil || res.Terminal.Status != adapter.OutcomeFailed {
			t.Fatalf("Terminal = %+v, want synchronous failure", res.Terminal)
		}
		if entries := wallets.Entries("user-1"); len(entries) != 0 {
			t.Errorf("ledger has %d entries after failed debit", len(entries))
		}
	})

	t.Run("replaying the same attempt does not double debit", func(t *testing.T) {
		wallets := memory.NewWalletRepo()
		txm := memory.NewTxManager()
		if _, err := wallets.Credit(ctx, nil, "user-1", "topup-1", decimal.NewFromInt(100), "topup"); err != nil {
			t.Fatalf("seed credit: %v", err)
		}

		gw := NewWalletGateway(wallets, txm)
		a := testAttempt(model.ProviderWalletInternal, "30.00")
		for i := 0; i < 2; i++ {
			if _, err := gw.Initiate(ctx, a); err != nil {
				t.Fatalf("Initiate() round %d error = %v", i, err)
			}
		}
		acc, _ := wallets.Balance(ctx, nil, "user-1")
		if !acc.Balance.Equal(decimal.NewFromInt(70)) {
			t.Errorf("balance = %s, want 70", acc.Balance)
		}
	})
}

func TestMapStripeError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "revoked api key surfaces a credential fault",
			err:  &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, HTTPStatusCode: http.StatusUnauthorized, Msg: "Invalid API Key provided"},
			want: domain.ErrInvalidCredentials,
		},
		{
			name: "card decline is a terminal rejection",
			err:  &stripe.Error{Type: stripe.ErrorTypeCard, Msg: "Your card was declined."},
			want: domain.ErrProviderRejected,
		},
		{
			name: "api fault is retryable",
			err:  &stripe.Error{Type: stripe.ErrorTypeAPI, HTTPStatusCode: http.StatusInternalServerError, Msg: "server error"},
			want: domain.ErrProviderUnavailable,
		},
		{
			name: "transport error is retryable",
			err:  errors.New("dial tcp: i/o timeout"),
			want: domain.ErrProviderUnavailable,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := mapStripeError(tc.err); !errors.Is(got, tc.want) {
				t.Errorf("mapStripeError() = %v, want %v", got, tc.want)
			}
		})
	}
}
