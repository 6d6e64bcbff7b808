package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/investmarket/auth-api/internal/application/account"
	"github.com/investmarket/auth-api/internal/application/auth"
	"github.com/investmarket/auth-api/internal/application/notify"
	"github.com/investmarket/auth-api/internal/application/otp"
	"github.com/investmarket/auth-api/internal/config"
	"github.com/investmarket/auth-api/internal/domain"
	jwtinfra "github.com/investmarket/auth-api/internal/infrastructure/jwt"
	"github.com/investmarket/auth-api/internal/pkg/password"
	"github.com/investmarket/auth-api/internal/transport/http/handler"
	appmiddleware "github.com/investmarket/auth-api/internal/transport/http/middleware"
)

// Deps holds all infrastructure dependencies for the router.
type Deps struct {
	AccountRepo AccountRepository
	Ledger      *otp.Ledger
	Hasher      password.Hasher
	Notifier    notify.Notifier
	Events      auth.EventPublisher // optional
	JWTProvider *jwtinfra.Provider
	Logger      *slog.Logger
}

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(appmiddleware.RequestLogger(deps.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	authSvc := auth.NewService(auth.ServiceDeps{
		AccountRepo: deps.AccountRepo,
		Ledger:      deps.Ledger,
		Hasher:      deps.Hasher,
		Notifier:    deps.Notifier,
		Tokens:      deps.JWTProvider,
		Events:      deps.Events,
		Policy: auth.Policy{
			VerificationTTL: cfg.OTP.VerificationTTL,
			LoginTTL:        cfg.OTP.LoginTTL,
			ResetTTL:        cfg.OTP.ResetTTL,
			MaxAttempts:     cfg.OTP.MaxAttempts,
		},
	})
	accountSvc := account.NewService(account.ServiceDeps{
		AccountRepo: deps.AccountRepo,
		Hasher:      deps.Hasher,
		Notifier:    deps.Notifier,
	})

	healthH := handler.NewHealthHandler()
	authH := handler.NewAuthHandler(authSvc)
	meH := handler.NewMeHandler(accountSvc, authSvc)
	accountH := handler.NewAccountHandler(accountSvc)
	authMw := appmiddleware.Auth(deps.JWTProvider, deps.AccountRepo)

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)
		r.Get("/roles", handler.ListRoles)
		r.Post("/auth/register", authH.Register)
		r.Post("/auth/verify-email", authH.VerifyEmail)
		r.Post("/auth/resend-verification", authH.ResendVerification)
		r.Post("/auth/login", authH.Login)
		r.Post("/auth/verify-login", authH.VerifyLogin)
		r.Post("/auth/forgot-password", authH.ForgotPassword)
		r.Post("/auth/reset-password", authH.ResetPassword)

		// ── Authenticated routes ─────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(authMw)

			r.Get("/me", meH.Get)
			r.Put("/me", meH.Update)
			r.Post("/me/password", meH.ChangePassword)
			r.Post("/me/phone/{action}", meH.Phone)

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.RequireRole(domain.RoleAdmin))

				r.Get("/accounts", accountH.List)
				r.Get("/accounts/{id}", accountH.Get)
				r.Put("/accounts/{id}/role", accountH.ChangeRole)
			})
		})
	})

	return r
}
