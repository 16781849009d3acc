package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/calder-ross/bastion/internal/auth"
	"github.com/calder-ross/bastion/internal/config"
	"github.com/calder-ross/bastion/internal/database"
	"github.com/calder-ross/bastion/internal/geo"
	"github.com/calder-ross/bastion/internal/handlers"
	middlewareCustom "github.com/calder-ross/bastion/internal/middleware"
	"github.com/calder-ross/bastion/internal/routes"
	"github.com/calder-ross/bastion/internal/services"
	pkghttp "github.com/calder-ross/bastion/pkg/http"
	pkglogger "github.com/calder-ross/bastion/pkg/logger"
)

// TestServerConfig returns a config suitable for integration tests: generous
// rate limits so ordinary test traffic is never throttled.
func TestServerConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:            "0",
			Env:             "test",
			CleanupInterval: time.Hour,
		},
		// LowThreshold sits above new-device + unusual-hour (35) so a first
		// login stays below the verification cut regardless of the wall-clock
		// hour the suite runs at.
		Risk: config.RiskConfig{
			FailedAttemptsThreshold: 5,
			TimeWindow:              24 * time.Hour,
			TrustDeviceDuration:     30 * 24 * time.Hour,
			UnusualHourStart:        0,
			UnusualHourEnd:          6,
			LowThreshold:            40,
			MediumThreshold:         70,
			HighThreshold:           90,
		},
		Otp: config.OtpConfig{
			Length:          6,
			Expiry:          5 * time.Minute,
			BackupCodeCount: 10,
		},
		RateLimit: config.RateLimitConfig{
			MaxAttemptsPerWindow: 1000,
			Window:               time.Minute,
			BlockDuration:        time.Minute,
		},
		Challenge: config.ChallengeConfig{
			SigningSecret: "integration-test-signing-secret!",
			TokenExpiry:   5 * time.Minute,
			TOTPIssuer:    "Bastion Test",
		},
	}
}

// StartTestServer wires the full stack against the given database and returns
// a running httptest server
func StartTestServer(db *database.DB, emails *CaptureEmailService, cfg *config.Config) *httptest.Server {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	userRepo, attemptRepo, deviceRepo, otpRepo, backupCodeRepo, oauth2LinkRepo, auditLogRepo, passwordHistoryRepo := InitializeRepositories(db)

	auditService := services.NewAuditService(auditLogRepo, pkglogger.NewAuditLogger(logger), logger)
	riskService := services.NewRiskService(attemptRepo, deviceRepo, userRepo, auditService, cfg.Risk, logger)
	otpService := services.NewOtpService(otpRepo, emails, cfg.Otp, logger)
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

	geoLookup := geo.NewNoopLookup(logger)
	ipResolver := pkghttp.NewClientIPResolver(cfg.Server.TrustedProxies)
	authHandler := handlers.NewAuthHandler(loginService, userService, oauth2Service, geoLookup, ipResolver)
	mfaHandler := handlers.NewMFAHandler(mfaService, riskService)
	auditHandler := handlers.NewAuditHandler(auditService)

	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(cfg.Server.Env))
	router.Use(chiMiddleware.Recoverer)

	routes.RegisterRoutes(router, authHandler, mfaHandler, auditHandler, cfg.RateLimit)

	return httptest.NewServer(router)
}

// PostJSON sends a JSON request body and decodes the JSON response into out
// when out is non-nil. The response status code is always returned.
func PostJSON(client *http.Client, url string, body any, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if out != nil {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
			}
		}
	}

	return resp.StatusCode, nil
}
