package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/BizModelAI/Main12-sub002/internal/account"
	"github.com/BizModelAI/Main12-sub002/internal/ai"
	"github.com/BizModelAI/Main12-sub002/internal/api"
	"github.com/BizModelAI/Main12-sub002/internal/auth"
	"github.com/BizModelAI/Main12-sub002/internal/cache"
	"github.com/BizModelAI/Main12-sub002/internal/cleanup"
	"github.com/BizModelAI/Main12-sub002/internal/config"
	"github.com/BizModelAI/Main12-sub002/internal/database"
	"github.com/BizModelAI/Main12-sub002/internal/email"
	"github.com/BizModelAI/Main12-sub002/internal/logger"
	"github.com/BizModelAI/Main12-sub002/internal/payment"
	"github.com/BizModelAI/Main12-sub002/internal/quiz"
	"github.com/BizModelAI/Main12-sub002/internal/ratelimit"
	"github.com/BizModelAI/Main12-sub002/internal/repository"
	"github.com/BizModelAI/Main12-sub002/internal/session"
)

const sessionSweepInterval = 10 * time.Minute

func main() {
	cfg := config.Load()

	log, err := logger.New(logger.ConfigFromEnv(cfg.Env))
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting BizModelAI API", zap.String("env", cfg.Env))
	if cfg.IsProduction() && cfg.SessionSecret == "change-me-in-production" {
		log.Fatal("SESSION_SECRET must be set in production")
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewRealClock()

	db, err := database.New(ctx, database.DefaultConfig(cfg.DatabaseURL), log)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if cfg.RunMigrations {
		if err := db.Migrate(ctx); err != nil {
			log.Fatal("failed to migrate database", zap.Error(err))
		}
	}

	var redisCache *cache.Redis
	if cfg.RedisURL != "" {
		redisCache, err = cache.NewRedisFromURL(cfg.RedisURL)
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisCache.Close()
		log.Info("connected to redis")
	}

	store := repository.NewStore(db)
	tokens := auth.NewTokenService(cfg.SessionSecret, clock)

	// Sessions
	var sessionStore session.Store = session.NewMemoryStore(clock)
	if redisCache != nil {
		sessionStore = session.NewRedisStore(redisCache)
	}
	sessionCache := session.NewCache(cfg.SessionCacheTTL, clock)
	go sessionCache.Run(ctx, sessionSweepInterval, log)

	sessions := session.NewManager(session.Config{
		Store:   sessionStore,
		Cache:   sessionCache,
		Cookies: session.NewCookieCodec(cfg.SessionCookieName, cfg.SessionTTL, cfg.IsProduction(), tokens),
		TTL:     cfg.SessionTTL,
		Clock:   clock,
		Logger:  log,
	})

	// Domain services
	accounts := account.NewService(store, auth.NewPasswordHasher(0), clock, log)
	quizService := quiz.NewService(store, accounts, clock, log)

	var sender email.Sender = email.NewNoopSender(log)
	if cfg.ResendAPIKey != "" {
		sender = email.NewResendSender(cfg.ResendAPIKey, cfg.EmailFrom)
	} else {
		log.Warn("RESEND_API_KEY not set, emails will only be logged")
	}
	mailer := email.NewService(sender, tokens, cfg.FrontendURL, cfg.PublicURL, log)

	paymentCfg := payment.Config{
		Store:    store,
		Accounts: accounts,
		Quiz:     quizService,
		Mailer:   mailer,
		Clock:    clock,
		Logger:   log,
	}
	if cfg.StripeEnabled() {
		paymentCfg.Stripe = payment.NewStripeClient(cfg.StripeSecretKey, cfg.StripeWebhookSecret, log)
	} else {
		log.Warn("STRIPE_SECRET_KEY not set, card payments disabled")
	}
	if cfg.PayPalEnabled() {
		pp, err := payment.NewPayPalClient(cfg.PayPalClientID, cfg.PayPalClientSecret, cfg.PayPalMode)
		if err != nil {
			log.Fatal("failed to create paypal client", zap.Error(err))
		}
		paymentCfg.PayPal = pp
	}
	payments := payment.NewService(paymentCfg)

	// AI
	var completer ai.Completer
	if cfg.OpenAIAPIKey != "" {
		completer = ai.NewClient(ai.ClientConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			Timeout: cfg.AITimeout,
			Clock:   clock,
			Logger:  log,
		})
	} else {
		log.Warn("OPENAI_API_KEY not set, AI generation disabled")
	}
	content := ai.NewContentService(ai.NewContentCache(store.AIContents, clock), completer, log)

	var chatLimiter ratelimit.Limiter
	if cfg.RateLimitBackend == "redis" && redisCache != nil {
		chatLimiter = ratelimit.NewRedisLimiter(redisCache, "openai-chat", cfg.AIRateLimitPerMin, ratelimit.DefaultWindow, clock)
	} else {
		memLimiter := ratelimit.NewMemoryLimiter(cfg.AIRateLimitPerMin, ratelimit.DefaultWindow, clock)
		go memLimiter.Run(ctx, ratelimit.DefaultSweepInterval, log)
		chatLimiter = memLimiter
	}

	// Background cleanup; a zero interval leaves it to cmd/cleanup
	cleaner := cleanup.NewCleaner(store, clock, log)
	scheduler := cleanup.NewScheduler(cleaner, cfg.CleanupInterval)
	if cfg.CleanupInterval > 0 {
		go scheduler.Start(ctx)
	}

	router := api.NewRouter(api.Deps{
		Config:      cfg,
		Logger:      log,
		Clock:       clock,
		DB:          db,
		Redis:       redisCache,
		Sessions:    sessions,
		Accounts:    accounts,
		Quiz:        quizService,
		Payments:    payments,
		Mailer:      mailer,
		Completer:   completer,
		Content:     content,
		ChatLimiter: chatLimiter,
		Cleaner:     cleaner,
		AdminKey:    auth.NewAdminKey(cfg.AdminAPIKey),
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.AITimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	scheduler.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
