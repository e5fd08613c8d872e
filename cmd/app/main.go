// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coursepay/internal/config"
	"coursepay/internal/domain/ports/repository"
	"coursepay/internal/infra/db/memory"
	pg "coursepay/internal/infra/db/postgres"
	"coursepay/internal/infra/gateway"
	"coursepay/internal/infra/logging"
	"coursepay/internal/infra/metrics"
	red "coursepay/internal/infra/redis"
	"coursepay/internal/infra/sched"
	"coursepay/internal/infra/security"
	"coursepay/internal/infra/vault"
	"coursepay/internal/infra/web"
	"coursepay/internal/infra/worker"
	"coursepay/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "developer mode: in-memory repos, no external stores required")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("developer mode enabled")
	}

	// ---- Encryption ----
	masterSecret := cfg.Security.MasterSecret
	if masterSecret == "" {
		logger.Warn().Msg("security.master_secret not set; using insecure dev secret")
		masterSecret = "dev-master-secret-do-not-use"
	}
	encSvc, err := security.NewEncryptionService(masterSecret)
	if err != nil {
		logger.Fatal().Err(err).Msg("encryption service")
	}

	// ---- Stores ----
	var (
		attemptRepo repository.PaymentAttemptRepository
		walletRepo  repository.WalletRepository
		secretRepo  repository.SecretRepository
		txm         repository.TransactionManager
	)
	if cfg.Runtime.Dev {
		attemptRepo = memory.NewAttemptRepo()
		walletRepo = memory.NewWalletRepo()
		secretRepo = memory.NewSecretRepo()
		txm = memory.NewTxManager()
	} else {
		pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres")
		}
		defer pool.Close()
		attemptRepo = pg.NewAttemptRepo(pool)
		walletRepo = pg.NewWalletRepo(pool)
		secretRepo = pg.NewSecretRepo(pool)
		txm = pg.NewTxManager(pool)
	}

	// ---- Redis ----
	var statusCache *red.StatusCache
	var locker red.Locker
	if !cfg.Runtime.Dev {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
		statusCache = red.NewStatusCache(redisClient, cfg.Redis.TTL)
		locker = red.NewLocker(redisClient)
	} else {
		locker = red.NopLocker{}
	}

	// ---- Vault ----
	vlt := vault.New(secretRepo, encSvc, logger)

	// ---- Gateways ----
	registry := gateway.NewRegistry(
		gateway.NewStripeGateway(cfg.Payment.Stripe.APIKeySecret, cfg.Payment.Stripe.WebhookSecretKey, vlt),
		gateway.NewCardRedirectGateway(cfg.Payment.CardRedirect.BaseURL, cfg.Payment.CardRedirect.CallbackURL,
			cfg.Payment.CardRedirect.MerchantKey, cfg.Payment.CardRedirect.WebhookSecretKey, vlt),
		gateway.NewGenericRedirectGateway(cfg.Payment.GenericRedirect.BaseURL, cfg.Payment.GenericRedirect.CallbackURL,
			cfg.Payment.GenericRedirect.MerchantKey, cfg.Payment.GenericRedirect.WebhookSecretKey, vlt),
		gateway.NewMobilePushGateway(cfg.Payment.MobilePush.BaseURL, cfg.Payment.MobilePush.ShortCode,
			cfg.Payment.MobilePush.ConsumerKey, cfg.Payment.MobilePush.WebhookSecretKey, vlt),
		gateway.NewWalletGateway(walletRepo, txm),
	)

	// ---- Use cases ----
	settlementUC := usecase.NewSettlementUseCase(
		attemptRepo, walletRepo, txm, registry, statusCache,
		cfg.Payment.Currency, cfg.Payment.PlatformAccount,
		cfg.Payment.Poll.MaxAttempts, *logger,
	)
	walletUC := usecase.NewWalletUseCase(walletRepo, txm, *logger)

	// ---- Poller + reconciler ----
	pool := worker.NewPool(8)
	pool.Start(ctx)
	defer pool.Stop()

	poller := sched.NewPoller(settlementUC, pool, locker, cfg.Payment.Poll.Interval, *logger)
	poller.Start(ctx)
	settlementUC.SetTracker(poller)

	reconciler := sched.NewReconciler(settlementUC, attemptRepo, cfg.Reconciler.Interval, cfg.Reconciler.StaleAfter, *logger)
	go reconciler.Start(ctx)

	// ---- HTTP ----
	metrics.MustRegister()
	tokenSecret, err := vlt.Value(ctx, "service_token_secret", "SERVICE_TOKEN_SECRET")
	if err != nil || tokenSecret == "" {
		logger.Warn().Msg("service_token_secret not in vault; deriving from master secret")
		tokenSecret = masterSecret
	}
	auth := web.NewServiceAuth(tokenSecret, 30*time.Minute)
	server := web.NewServer(settlementUC, walletUC, auth, *logger)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	cancel()
}
