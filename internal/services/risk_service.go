package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/calder-ross/bastion/internal/config"
	"github.com/calder-ross/bastion/internal/models"
)

// Risk factor descriptions, in fixed evaluation order. Matched factors are
// appended in this order so assessment output is stable for identical inputs.
const (
	riskFactorUnknownUser     = "user does not exist"
	riskFactorNewDevice       = "access from a new device"
	riskFactorFailedAttempts  = "multiple failed login attempts"
	riskFactorSuspiciousIP    = "suspicious IP address"
	riskFactorNewLocation     = "access from a new location"
	riskFactorUnusualTime     = "access at an unusual time of day"
	riskFactorMultipleIPs     = "access from multiple IP addresses"
	riskFactorMultiCountry    = "access from multiple countries"
	riskFactorRapidTravel     = "physically impossible travel"
)

// Signal weights for the additive scoring model
const (
	weightNewDevice      = 20
	weightFailedAttempts = 30
	weightSuspiciousIP   = 25
	weightNewLocation    = 20
	weightUnusualTime    = 15
	weightMultipleIPs    = 20
	weightMultiCountry   = 30
	weightRapidTravel    = 40

	distinctIPThreshold  = 3
	rapidTravelWindow    = 3 * time.Hour
	newLocationLookback  = 30 * 24 * time.Hour
)

// AttemptStore is the read side of the login attempt ledger used for scoring,
// plus the single append operation.
type AttemptStore interface {
	RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error
	CountFailedAttempts(ctx context.Context, username string, since time.Time) (int, error)
	CountAttempts(ctx context.Context, username string, since time.Time) (int, error)
	CountDistinctIPs(ctx context.Context, username string, since time.Time) (int, error)
	DistinctCountryCodes(ctx context.Context, username string, since time.Time) ([]string, error)
	LastSuccessfulAttempt(ctx context.Context, username string) (*models.LoginAttempt, error)
}

// DeviceStore is the trusted device registry as seen by the risk engine
type DeviceStore interface {
	GetActiveByFingerprint(ctx context.Context, userID, fingerprint string) (*models.TrustedDevice, error)
	GetByID(ctx context.Context, id string) (*models.TrustedDevice, error)
	ListActiveByUser(ctx context.Context, userID string) ([]*models.TrustedDevice, error)
	Upsert(ctx context.Context, device *models.TrustedDevice) (*models.TrustedDevice, error)
	TouchLastUsed(ctx context.Context, id string) error
	Deactivate(ctx context.Context, id string) error
}

// RiskUserStore looks up accounts for scoring and device trust
type RiskUserStore interface {
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}

// RiskService scores login attempts from contextual signals and attempt
// history. Assessment is read-only; recording and device trust are separate
// operations invoked by the orchestrator.
type RiskService struct {
	attempts AttemptStore
	devices  DeviceStore
	users    RiskUserStore
	audit    *AuditService
	config   config.RiskConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewRiskService creates a new RiskService
func NewRiskService(attempts AttemptStore, devices DeviceStore, users RiskUserStore, audit *AuditService, cfg config.RiskConfig, logger *slog.Logger) *RiskService {
	return NewRiskServiceWithClock(attempts, devices, users, audit, cfg, logger, time.Now)
}

// NewRiskServiceWithClock creates a RiskService with an injected clock, for
// deterministic tests.
func NewRiskServiceWithClock(attempts AttemptStore, devices DeviceStore, users RiskUserStore, audit *AuditService, cfg config.RiskConfig, logger *slog.Logger, clock func() time.Time) *RiskService {
	return &RiskService{
		attempts: attempts,
		devices:  devices,
		users:    users,
		audit:    audit,
		config:   cfg,
		logger:   logger,
		now:      clock,
	}
}

// AssessLoginRisk computes the risk score and factor list for one attempt.
// Deterministic for the same stored history and context, aside from
// now-dependent windows. Never mutates state.
func (s *RiskService) AssessLoginRisk(ctx context.Context, username string, loginCtx models.LoginContext) (*models.RiskAssessmentResult, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Unknown accounts short-circuit to the maximum score
			return &models.RiskAssessmentResult{
				RiskScore:                      100,
				RiskLevel:                      models.RiskLevelCritical,
				RequiresAdditionalVerification: true,
				RecommendedVerificationMethods: []string{models.VerificationMethodBlock},
				RiskFactors:                    []string{riskFactorUnknownUser},
			}, nil
		}
		s.logger.Error("failed to look up user for risk assessment", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	now := s.now()
	windowStart := now.Add(-s.config.TimeWindow)

	var factors []string
	var details models.RiskDetails
	score := 0

	// 1. Device check. A missing fingerprint always counts as a new device.
	if s.isNewDevice(ctx, user.ID, loginCtx.DeviceFingerprint) {
		factors = append(factors, riskFactorNewDevice)
		score += weightNewDevice
		details.NewDevice = true
	}

	// 2. Recent failure velocity
	failedCount, err := s.attempts.CountFailedAttempts(ctx, username, windowStart)
	if err != nil {
		s.logger.Error("failed to count failed attempts", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if failedCount >= s.config.FailedAttemptsThreshold {
		factors = append(factors, riskFactorFailedAttempts)
		score += weightFailedAttempts
		details.MultipleFailedAttempts = true
	}
	details.RecentFailedAttempts = failedCount

	// 3. IP reputation
	if loginCtx.Proxy || loginCtx.VPN {
		factors = append(factors, riskFactorSuspiciousIP)
		score += weightSuspiciousIP
		details.SuspiciousIP = true
	}

	// 4. Geographic novelty. Skipped entirely when the country is unknown.
	if loginCtx.CountryCode != nil {
		newLocation, err := s.isNewLocation(ctx, username, *loginCtx.CountryCode, now)
		if err != nil {
			return nil, models.ErrInternalServer
		}
		if newLocation {
			factors = append(factors, riskFactorNewLocation)
			score += weightNewLocation
			details.NewLocation = true
		}
	}

	// 5. Time-of-day. Bounds are inclusive: with the 0-6 default, hour 6
	// is unusual and hour 7 is not.
	if loginCtx.HourOfDay >= s.config.UnusualHourStart && loginCtx.HourOfDay <= s.config.UnusualHourEnd {
		factors = append(factors, riskFactorUnusualTime)
		score += weightUnusualTime
		details.UnusualTime = true
	}

	// 6. IP fan-out
	distinctIPs, err := s.attempts.CountDistinctIPs(ctx, username, windowStart)
	if err != nil {
		s.logger.Error("failed to count distinct IPs", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if distinctIPs > distinctIPThreshold {
		factors = append(factors, riskFactorMultipleIPs)
		score += weightMultipleIPs
	}
	details.DistinctIPCount = distinctIPs

	// 7. Country fan-out, with the impossible travel check nested inside
	countries, err := s.attempts.DistinctCountryCodes(ctx, username, windowStart)
	if err != nil {
		s.logger.Error("failed to query distinct countries", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if len(countries) > 1 {
		factors = append(factors, riskFactorMultiCountry)
		score += weightMultiCountry

		rapid, err := s.isRapidLocationChange(ctx, username, loginCtx.CountryCode, now)
		if err != nil {
			return nil, models.ErrInternalServer
		}
		if rapid {
			factors = append(factors, riskFactorRapidTravel)
			score += weightRapidTravel
			details.RapidLocationChange = true
		}
	}
	details.DistinctCountries = countries

	if score > 100 {
		score = 100
	}

	level := s.riskLevel(score)
	requiresVerification := score > s.config.LowThreshold

	result := &models.RiskAssessmentResult{
		RiskScore:                      score,
		RiskLevel:                      level,
		RequiresAdditionalVerification: requiresVerification,
		RecommendedVerificationMethods: s.recommendedMethods(score, user),
		RiskFactors:                    factors,
		RiskDetails:                    details,
	}

	s.logger.Info("risk assessment completed",
		slog.String("username", username),
		slog.Int("risk_score", score),
		slog.String("risk_level", string(level)),
		slog.Bool("requires_verification", requiresVerification))

	return result, nil
}

// RecordLoginAttempt appends the outcome of an attempt to the ledger. Called
// once per attempt, after both primary and any secondary outcome are known.
func (s *RiskService) RecordLoginAttempt(ctx context.Context, username string, loginCtx models.LoginContext, successful bool, riskScore int, riskFactors []string, verificationRequired bool, verificationMethod *string) error {
	attempt := &models.LoginAttempt{
		Username:             username,
		IPAddress:            loginCtx.IPAddress,
		UserAgent:            loginCtx.UserAgent,
		DeviceFingerprint:    loginCtx.DeviceFingerprint,
		Success:              successful,
		RiskScore:            riskScore,
		RiskFactors:          strings.Join(riskFactors, ", "),
		CountryCode:          loginCtx.CountryCode,
		City:                 loginCtx.City,
		Proxy:                loginCtx.Proxy,
		VPN:                  loginCtx.VPN,
		VerificationRequired: verificationRequired,
		VerificationMethod:   verificationMethod,
	}

	if err := s.attempts.RecordAttempt(ctx, attempt); err != nil {
		s.logger.Error("failed to record login attempt",
			slog.String("username", username),
			slog.Any("error", err))
		return err
	}

	return nil
}

// TrustDevice registers or refreshes a trusted device for a user. Trust is
// advisory: it only lowers future risk scores.
func (s *RiskService) TrustDevice(ctx context.Context, username, fingerprint, deviceName string, loginCtx *models.LoginContext) error {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return err
	}

	device := &models.TrustedDevice{
		UserID:            user.ID,
		DeviceFingerprint: fingerprint,
		DeviceName:        deviceName,
		TrustExpiresAt:    s.now().Add(s.config.TrustDeviceDuration),
	}
	if loginCtx != nil {
		device.LastIPAddress = &loginCtx.IPAddress
		device.LastUserAgent = &loginCtx.UserAgent
		device.LastCountryCode = loginCtx.CountryCode
	}

	if _, err := s.devices.Upsert(ctx, device); err != nil {
		s.logger.Error("failed to trust device",
			slog.String("username", username),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("device trusted",
		slog.String("username", username),
		slog.String("device_name", deviceName))
	s.audit.LogEventWithContext(ctx, models.AuditEventTypeDeviceTrusted, username, true,
		deviceName, loginCtx)
	return nil
}

// RemoveTrustedDevice deactivates a trusted device after an ownership check
func (s *RiskService) RemoveTrustedDevice(ctx context.Context, username, deviceID string) error {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return err
	}

	device, err := s.devices.GetByID(ctx, deviceID)
	if err != nil {
		return err
	}
	if device.UserID != user.ID {
		return models.ErrForbidden
	}

	if err := s.devices.Deactivate(ctx, deviceID); err != nil {
		return err
	}

	s.logger.Info("trusted device removed",
		slog.String("username", username),
		slog.String("device_id", deviceID))
	s.audit.LogEvent(ctx, models.AuditEventTypeDeviceRemoved, username, true, device.DeviceName)
	return nil
}

// ListTrustedDevices returns the user's active trusted devices
func (s *RiskService) ListTrustedDevices(ctx context.Context, username string) ([]*models.TrustedDevice, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return s.devices.ListActiveByUser(ctx, user.ID)
}

func (s *RiskService) isNewDevice(ctx context.Context, userID string, fingerprint *string) bool {
	if fingerprint == nil || *fingerprint == "" {
		return true
	}

	device, err := s.devices.GetActiveByFingerprint(ctx, userID, *fingerprint)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("trusted device lookup failed", slog.Any("error", err))
		}
		return true
	}

	if err := s.devices.TouchLastUsed(ctx, device.ID); err != nil {
		s.logger.Error("failed to touch trusted device", slog.Any("error", err))
	}
	return false
}

// isNewLocation reports whether the current country has not been seen in the
// user's trailing 30-day history. A user with no history is never penalized.
func (s *RiskService) isNewLocation(ctx context.Context, username, countryCode string, now time.Time) (bool, error) {
	lookback := now.Add(-newLocationLookback)

	total, err := s.attempts.CountAttempts(ctx, username, lookback)
	if err != nil {
		s.logger.Error("failed to count attempts for location check", slog.Any("error", err))
		return false, err
	}
	if total == 0 {
		return false, nil
	}

	countries, err := s.attempts.DistinctCountryCodes(ctx, username, lookback)
	if err != nil {
		s.logger.Error("failed to query countries for location check", slog.Any("error", err))
		return false, err
	}

	for _, c := range countries {
		if c == countryCode {
			return false, nil
		}
	}
	return true, nil
}

// isRapidLocationChange reports whether the most recent successful login came
// from a different country less than three hours ago.
func (s *RiskService) isRapidLocationChange(ctx context.Context, username string, countryCode *string, now time.Time) (bool, error) {
	if countryCode == nil {
		return false, nil
	}

	lastSuccess, err := s.attempts.LastSuccessfulAttempt(ctx, username)
	if err != nil {
		s.logger.Error("failed to query last successful attempt", slog.Any("error", err))
		return false, err
	}
	if lastSuccess == nil || lastSuccess.CountryCode == nil {
		return false, nil
	}

	if *lastSuccess.CountryCode != *countryCode {
		return now.Sub(lastSuccess.AttemptedAt) < rapidTravelWindow, nil
	}
	return false, nil
}

func (s *RiskService) riskLevel(score int) models.RiskLevel {
	switch {
	case score <= s.config.LowThreshold:
		return models.RiskLevelLow
	case score <= s.config.MediumThreshold:
		return models.RiskLevelMedium
	case score <= s.config.HighThreshold:
		return models.RiskLevelHigh
	default:
		return models.RiskLevelCritical
	}
}

func (s *RiskService) recommendedMethods(score int, user *models.User) []string {
	var methods []string

	if score > s.config.LowThreshold {
		if user.MFAEnabled {
			methods = append(methods, models.VerificationMethodTOTP)
		}
		methods = append(methods, models.VerificationMethodEmailOTP)
	}

	if score > s.config.MediumThreshold {
		methods = append(methods, models.VerificationMethodSecurityQuestions)
	}

	return methods
}
