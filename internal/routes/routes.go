package routes

import (
	"github.com/calder-ross/bastion/internal/config"
	"github.com/calder-ross/bastion/internal/handlers"
	"github.com/calder-ross/bastion/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	mfaHandler *handlers.MFAHandler,
	auditHandler *handlers.AuditHandler,
	rateLimitCfg config.RateLimitConfig,
) {
	limited := middleware.RateLimitByIP(rateLimitCfg)

	// Authentication flow - everything here is pre-session, throttled by IP
	router.Group(func(r chi.Router) {
		r.Use(limited)

		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/login/verify", authHandler.VerifyChallenge)
		r.Post("/auth/login/otp", authHandler.SendOtp)
		r.Post("/auth/otp/send", authHandler.StartOtpLogin)
		r.Post("/auth/otp/verify", authHandler.CompleteOtpLogin)
		r.Post("/auth/password-reset", authHandler.RequestPasswordReset)
		r.Post("/auth/password-reset/confirm", authHandler.ResetPassword)
		r.Post("/auth/email/verification", authHandler.RequestEmailVerification)
		r.Post("/auth/email/verify", authHandler.VerifyEmail)
		r.Post("/auth/oauth2/login", authHandler.OAuth2Login)
	})

	// Account management - callers are expected to sit behind an
	// authenticating gateway
	router.Route("/users/{username}", func(r chi.Router) {
		r.Post("/password", authHandler.ChangePassword)
		r.Get("/audit", auditHandler.GetUserAuditTrail)

		r.Route("/mfa", func(r chi.Router) {
			r.Post("/setup", mfaHandler.InitiateSetup)
			r.Post("/confirm", mfaHandler.ConfirmSetup)
			r.Post("/backup-codes", mfaHandler.RegenerateBackupCodes)
			r.Delete("/", mfaHandler.DisableMFA)
		})

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", mfaHandler.ListDevices)
			r.Delete("/{deviceID}", mfaHandler.RemoveDevice)
		})
	})
}
