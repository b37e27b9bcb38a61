package api

import (
	"log/slog"
	"net/http"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommw "github.com/mailpool/mailpool/internal/api/middleware"
	"github.com/mailpool/mailpool/internal/auth"
	"github.com/mailpool/mailpool/internal/config"
	"github.com/mailpool/mailpool/internal/ratelimit"
	"github.com/mailpool/mailpool/internal/storage"
)

type Server struct {
	Router *chi.Mux
	Logger *slog.Logger
}

type ServerDeps struct {
	Config   *config.Config
	Store    *storage.Store
	External *ExternalHandler
	Admin    *AdminHandler
	Limiter  ratelimit.Limiter
	Tokens   auth.TokenProvider
	Logger   *slog.Logger
}

func NewServer(deps ServerDeps) *Server {
	r := chi.NewRouter()

	r.Use(custommw.RequestID)
	r.Use(chimiddleware.RealIP)

	// Sentry before recovery so panics reach the hub.
	sentryHandler := sentryhttp.New(sentryhttp.Options{
		Repanic: true,
	})
	r.Use(sentryHandler.Handle)

	r.Use(custommw.RequestLogger)
	r.Use(custommw.PanicRecovery)

	r.Get("/health", Health)

	// Caller-facing routes. Every endpoint accepts both GET with query
	// params and POST with a JSON body.
	requireAPIKey := custommw.APIKeyAuth(deps.Store, deps.Limiter)
	r.Route("/api", func(r chi.Router) {
		r.Use(requireAPIKey)

		ext := deps.External
		registerBoth(r, "/get-email", ext.GetEmail)
		registerBoth(r, "/mail_new", ext.MailNew)
		registerBoth(r, "/mail_text", ext.MailText)
		registerBoth(r, "/mail_all", ext.MailAll)
		registerBoth(r, "/process-mailbox", ext.ProcessMailbox)
		registerBoth(r, "/list-emails", ext.ListEmails)
		registerBoth(r, "/pool-stats", ext.PoolStats)
		registerBoth(r, "/reset-pool", ext.ResetPool)
	})

	// Admin routes behind CORS and JWT sessions.
	requireAdmin := custommw.AdminAuth(deps.Tokens, deps.Store)
	loginLimiter := custommw.NewIPRateLimiter(1, 5)
	admin := deps.Admin
	r.Route("/admin", func(r chi.Router) {
		r.Use(custommw.CORS(deps.Config.CORSOrigins))

		r.Group(func(r chi.Router) {
			r.Use(loginLimiter.Middleware)
			r.Post("/auth/login", admin.Login)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)

			r.Post("/auth/logout", admin.Logout)
			r.Get("/auth/me", admin.Me)
			r.Post("/auth/2fa/setup", admin.SetupTwoFactor)
			r.Post("/auth/2fa/enable", admin.EnableTwoFactor)
			r.Post("/auth/2fa/disable", admin.DisableTwoFactor)

			r.Route("/api-keys", func(r chi.Router) {
				r.Get("/", admin.ListCredentials)
				r.Post("/", admin.CreateCredential)
				r.Get("/{id}", admin.GetCredential)
				r.Put("/{id}", admin.UpdateCredential)
				r.Delete("/{id}", admin.DeleteCredential)
				r.Get("/{id}/pool", admin.GetCredentialPool)
				r.Put("/{id}/pool", admin.ReplaceCredentialPool)
			})

			r.Route("/emails", func(r chi.Router) {
				r.Get("/", admin.ListMailboxes)
				r.Post("/", admin.CreateMailbox)
				r.Post("/import", admin.ImportMailboxes)
				r.Get("/{id}", admin.GetMailbox)
				r.Put("/{id}", admin.UpdateMailbox)
				r.Delete("/{id}", admin.DeleteMailbox)
			})

			r.Route("/groups", func(r chi.Router) {
				r.Get("/", admin.ListGroups)
				r.Post("/", admin.CreateGroup)
				r.Get("/{id}", admin.GetGroup)
				r.Put("/{id}", admin.UpdateGroup)
				r.Delete("/{id}", admin.DeleteGroup)
			})

			r.Route("/admins", func(r chi.Router) {
				r.Use(custommw.RequireSuperAdmin)

				r.Get("/", admin.ListAdminAccounts)
				r.Post("/", admin.CreateAdminAccount)
				r.Put("/{id}", admin.UpdateAdminAccount)
				r.Delete("/{id}", admin.DeleteAdminAccount)
			})

			r.Get("/dashboard/stats", admin.DashboardStats)
			r.Get("/logs", admin.ListAPILogs)
		})
	})

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{Router: r, Logger: logger}
}

func registerBoth(r chi.Router, pattern string, h http.HandlerFunc) {
	r.Get(pattern, h)
	r.Post(pattern, h)
}
