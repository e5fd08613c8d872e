package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"coursepay/internal/usecase"
)

type Server struct {
	settlementUC usecase.SettlementUseCase
	walletUC     usecase.WalletUseCase
	auth         *ServiceAuth
	log          zerolog.Logger

	srv *http.Server
}

func NewServer(settlementUC usecase.SettlementUseCase, walletUC usecase.WalletUseCase, auth *ServiceAuth, logger zerolog.Logger) *Server {
	return &Server{
		settlementUC: settlementUC,
		walletUC:     walletUC,
		auth:         auth,
		log:          logger.With().Str("component", "http").Logger(),
	}
}

// Router builds the full route tree. Split from Start so tests can mount it
// on httptest servers.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/payments", func(r chi.Router) {
			r.Post("/initiate", s.handleInitiate)
			r.Get("/{attemptID}/status", s.handleStatus)
			r.Get("/{attemptID}/receipt", s.handleReceipt)
			r.Post("/{attemptID}/cancel", s.handleCancel)
			r.Post("/webhook/{provider}", s.handleWebhook)
		})
		r.Route("/wallet/{userID}", func(r chi.Router) {
			r.Use(s.auth.Middleware)
			r.Get("/balance", s.handleBalance)
			r.Get("/audit", s.handleAudit)
			r.Post("/credit", s.handleCredit)
			r.Post("/debit", s.handleDebit)
		})
	})
	return r
}

func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info().Str("addr", addr).Msg("http server listening")
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}
