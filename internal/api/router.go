package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/eventhub/partner-portal/internal/middleware"
)

// RateLimit bounds login and transfer attempts per client IP.
type RateLimit struct {
	Limiter middleware.Limiter
	Limit   int
	Window  time.Duration
}

// Router holds all handlers and creates the chi router
type Router struct {
	authHandler         *AuthHandler
	transferHandler     *TransferHandler
	partnerHandler      *PartnerHandler
	notificationHandler *NotificationHandler
	chatHandler         *ChatHandler
	realtimeHandler     *RealtimeHandler
	healthHandler       *HealthHandler
	cookies             *SessionCookies
	rateLimit           RateLimit
	allowedOrigins      []string
	logger              *zap.Logger
}

// NewRouter creates a new router
func NewRouter(
	authHandler *AuthHandler,
	transferHandler *TransferHandler,
	partnerHandler *PartnerHandler,
	notificationHandler *NotificationHandler,
	chatHandler *ChatHandler,
	realtimeHandler *RealtimeHandler,
	healthHandler *HealthHandler,
	cookies *SessionCookies,
	rateLimit RateLimit,
	allowedOrigins []string,
	logger *zap.Logger,
) *Router {
	return &Router{
		authHandler:         authHandler,
		transferHandler:     transferHandler,
		partnerHandler:      partnerHandler,
		notificationHandler: notificationHandler,
		chatHandler:         chatHandler,
		realtimeHandler:     realtimeHandler,
		healthHandler:       healthHandler,
		cookies:             cookies,
		rateLimit:           rateLimit,
		allowedOrigins:      allowedOrigins,
		logger:              logger,
	}
}

// Setup configures and returns the chi router
func (rt *Router) Setup() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RecoveryMiddleware(rt.logger))
	r.Use(middleware.LoggingMiddleware(rt.logger))
	r.Use(middleware.CORSMiddleware(rt.allowedOrigins))

	limit := func(name string) func(http.Handler) http.Handler {
		return middleware.RateLimitMiddleware(rt.rateLimit.Limiter, name, rt.rateLimit.Limit, rt.rateLimit.Window, rt.logger)
	}
	requireSession := middleware.AuthMiddleware(rt.cookies.Store(), rt.cookies.Name())

	// Health endpoints (no auth required)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", rt.healthHandler.Health)
		r.Get("/ready", rt.healthHandler.Ready)
		r.Get("/live", rt.healthHandler.Live)
	})

	// Session transfer from the main application
	r.With(limit("transfer")).Get("/dashboard", rt.transferHandler.Dashboard)

	r.Route("/auth", func(r chi.Router) {
		r.With(limit("login")).Post("/login", rt.authHandler.Login)
		r.Post("/logout", rt.authHandler.Logout)
	})

	// Browser push channel; kept out of Compress so the upgrade can hijack.
	r.With(requireSession).Get("/ws", rt.realtimeHandler.Connect)

	r.Route("/api", func(r chi.Router) {
		r.Use(chimiddleware.Compress(5))

		// Public routes
		r.Post("/partnership-request", rt.partnerHandler.SubmitPartnership)
		r.Get("/settings", rt.partnerHandler.Settings)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(requireSession)

			r.Get("/me", rt.authHandler.Me)

			r.Route("/partner", func(r chi.Router) {
				r.Get("/dashboard", rt.partnerHandler.Dashboard)
				r.Patch("/payment-details", rt.partnerHandler.UpdatePaymentDetails)
				r.Post("/payouts", rt.partnerHandler.RequestPayout)
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", rt.notificationHandler.GetNotifications)
				r.Patch("/read-all", rt.notificationHandler.MarkAllRead)
				r.Patch("/{id}/read", rt.notificationHandler.MarkRead)
			})

			r.Route("/chats/{chatId}", func(r chi.Router) {
				r.Post("/open", rt.chatHandler.OpenChat)
				r.Get("/messages", rt.chatHandler.GetMessages)
				r.Post("/messages", rt.chatHandler.SendMessage)
				r.Delete("/", rt.chatHandler.CloseChat)
			})

			r.Get("/presence", rt.realtimeHandler.Presence)
			r.Post("/push/subscribe", rt.realtimeHandler.SubscribePush)
		})
	})

	return r
}
