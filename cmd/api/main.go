package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/calder-ross/bastion/internal/auth"
	"github.com/calder-ross/bastion/internal/background"
	"github.com/calder-ross/bastion/internal/config"
	"github.com/calder-ross/bastion/internal/database"
	"github.com/calder-ross/bastion/internal/geo"
	"github.com/calder-ross/bastion/internal/handlers"
	middlewareCustom "github.com/calder-ross/bastion/internal/middleware"
	"github.com/calder-ross/bastion/internal/repositories"
	"github.com/calder-ross/bastion/internal/routes"
	"github.com/calder-ross/bastion/internal/services"
	pkghttp "github.com/calder-ross/bastion/pkg/http"
	pkglogger "github.com/calder-ross/bastion/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Repositories
	userRepo := repositories.NewUserRepository(db)
	attemptRepo := repositories.NewLoginAttemptRepository(db)
	deviceRepo := repositories.NewTrustedDeviceRepository(db)
	otpRepo := repositories.NewOtpRepository(db)
	backupCodeRepo := repositories.NewBackupCodeRepository(db)
	oauth2LinkRepo := repositories.NewOAuth2LinkRepository(db)
	auditLogRepo := repositories.NewAuditLogRepository(db)
	passwordHistoryRepo := repositories.NewPasswordHistoryRepository(db)

	// Email transport
	var emailService services.EmailSender
	if cfg.Email.Mock {
		emailService = services.NewMockEmailService(logger)
	} else {
		emailService, err = services.NewAWSSESEmailService(cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
		if err != nil {
			logger.Error("failed to initialize email service", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Services
	auditService := services.NewAuditService(auditLogRepo, pkglogger.NewAuditLogger(logger), logger)
	riskService := services.NewRiskService(attemptRepo, deviceRepo, userRepo, auditService, cfg.Risk, logger)
	otpService := services.NewOtpService(otpRepo, emailService, cfg.Otp, logger)
	totpManager := auth.NewTOTPManager(cfg.Challenge.TOTPIssuer)
	mfaService := services.NewMFAService(userRepo, backupCodeRepo, totpManager, auditService, cfg.Otp, logger)
	rateLimitService := services.NewRateLimitService(cfg.RateLimit, logger)
	userService := services.NewUserService(userRepo, passwordHistoryRepo, otpService, auditService, logger)
	oauth2Service := services.NewOAuth2Service(userRepo, oauth2LinkRepo, auditService, logger)
	challengeManager := auth.NewChallengeManager(cfg.Challenge.SigningSecret, cfg.Challenge.TokenExpiry)
	loginService := services.NewLoginService(
		userRepo,
		userService,
		riskService,
		otpService,
		mfaService,
		rateLimitService,
		challengeManager,
		auditService,
		logger,
	)

	// Background cleanup
	cleanupManager := background.NewCleanupManager(
		otpRepo, deviceRepo, attemptRepo, rateLimitService, logger, cfg.Server.CleanupInterval)

	// Handlers
	geoLookup := geo.NewNoopLookup(logger)
	ipResolver := pkghttp.NewClientIPResolver(cfg.Server.TrustedProxies)
	authHandler := handlers.NewAuthHandler(loginService, userService, oauth2Service, geoLookup, ipResolver)
	mfaHandler := handlers.NewMFAHandler(mfaService, riskService)
	auditHandler := handlers.NewAuditHandler(auditService)

	// Router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(cfg.Server.Env))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, authHandler, mfaHandler, auditHandler, cfg.RateLimit)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}
