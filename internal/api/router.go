// Package api assembles the HTTP router.
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/BizModelAI/Main12-sub002/internal/account"
	"github.com/BizModelAI/Main12-sub002/internal/ai"
	"github.com/BizModelAI/Main12-sub002/internal/api/handlers"
	"github.com/BizModelAI/Main12-sub002/internal/auth"
	"github.com/BizModelAI/Main12-sub002/internal/cache"
	"github.com/BizModelAI/Main12-sub002/internal/cleanup"
	"github.com/BizModelAI/Main12-sub002/internal/config"
	"github.com/BizModelAI/Main12-sub002/internal/email"
	"github.com/BizModelAI/Main12-sub002/internal/middleware"
	"github.com/BizModelAI/Main12-sub002/internal/payment"
	"github.com/BizModelAI/Main12-sub002/internal/quiz"
	"github.com/BizModelAI/Main12-sub002/internal/ratelimit"
	"github.com/BizModelAI/Main12-sub002/internal/session"
)

// Deps are the services the router wires into handlers
type Deps struct {
	Config *config.Config
	Logger *zap.Logger
	Clock  clockwork.Clock

	DB    handlers.Pinger
	Redis *cache.Redis

	Sessions    *session.Manager
	Accounts    *account.Service
	Quiz        *quiz.Service
	Payments    *payment.Service
	Mailer      *email.Service
	Completer   ai.Completer
	Content     *ai.ContentService
	ChatLimiter ratelimit.Limiter
	Cleaner     *cleanup.Cleaner
	AdminKey    auth.AdminKey
}

// NewRouter creates and configures the main router
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()
	cfg := d.Config

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Timing)
	r.Use(middleware.Logger(d.Logger))
	r.Use(middleware.Recoverer(d.Logger))
	r.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	responder := handlers.NewResponder(cfg.IsDevelopment(), d.Logger)
	healthHandler := handlers.NewHealthChecker(d.DB, d.Redis, d.Clock)
	authHandler := handlers.NewAuthHandler(d.Accounts, d.Mailer, responder)
	quizHandler := handlers.NewQuizHandler(d.Quiz, responder)
	paymentHandler := handlers.NewPaymentHandler(d.Payments, responder)
	aiHandler := handlers.NewAIHandler(d.Completer, d.Content, d.Quiz, responder)
	emailHandler := handlers.NewEmailHandler(d.Mailer, d.Accounts, d.Quiz, responder)
	debugHandler := handlers.NewDebugHandler(d.Sessions, d.Cleaner, responder)

	// Health endpoints
	r.Get("/health", healthHandler.Health)
	r.Get("/health/live", handlers.LivenessProbe)
	r.Get("/health/ready", healthHandler.ReadinessProbe)

	// Provider callbacks and signed links carry no browser session
	r.Post("/api/stripe/webhook", paymentHandler.StripeWebhook)
	r.Get("/api/email/unsubscribe", emailHandler.Unsubscribe)

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(auth.RequireAdmin(d.AdminKey))
		r.Post("/payments/{paymentId}/refund", paymentHandler.Refund)
	})

	r.Group(func(r chi.Router) {
		r.Use(d.Sessions.Middleware)

		r.Route("/api/auth", func(r chi.Router) {
			r.Post("/signup", authHandler.Signup)
			r.Post("/login", authHandler.Login)
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
			r.Post("/password-setup", authHandler.RequestPasswordSetup)
			r.Post("/set-password", authHandler.SetPassword)
		})

		r.Post("/api/save-quiz-data", quizHandler.SaveQuizData)
		r.Route("/api/quiz-attempts", func(r chi.Router) {
			r.Get("/", quizHandler.ListAttempts)
			r.Route("/attempt/{id}", func(r chi.Router) {
				r.Get("/", quizHandler.GetAttempt)
				r.Get("/ai-content", aiHandler.GetContent)
				r.Post("/ai-content", aiHandler.SaveContent)
				r.Post("/ai-content/generate", aiHandler.GenerateContent)
			})
		})

		r.Post("/api/create-report-unlock-payment", paymentHandler.CreateReportUnlock)
		r.Post("/api/create-paypal-payment", paymentHandler.CreatePayPalPayment)
		r.Post("/api/capture-paypal-payment", paymentHandler.CapturePayPal)
		r.Get("/api/payment-status/{paymentId}", paymentHandler.Status)

		r.With(middleware.RateLimit(d.ChatLimiter, d.Logger)).Post("/api/openai-chat", aiHandler.Chat)

		r.Post("/api/email-results", emailHandler.EmailResults)

		if cfg.IsDevelopment() {
			r.Get("/api/debug/session", debugHandler.Session)
			r.Post("/api/debug/cleanup", debugHandler.Cleanup)
		}
	})

	return r
}
