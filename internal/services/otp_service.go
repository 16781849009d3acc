package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/calder-ross/bastion/internal/config"
	"github.com/calder-ross/bastion/internal/models"
)

// OtpStore handles persistence of emailed one-time passwords
type OtpStore interface {
	InvalidateAndCreate(ctx context.Context, otp *models.OneTimePassword) error
	FindValidByCode(ctx context.Context, userID, code string, purpose models.OtpPurpose, now time.Time) (*models.OneTimePassword, error)
	MarkUsed(ctx context.Context, id string) error
}

// EmailSender delivers OTP and password reset mails
type EmailSender interface {
	SendOtpEmail(ctx context.Context, to, username, code string, validMinutes int) error
	SendPasswordResetEmail(ctx context.Context, to, username, code string, validMinutes int) error
}

// OtpService issues and verifies emailed numeric one-time passwords
type OtpService struct {
	store  OtpStore
	email  EmailSender
	config config.OtpConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewOtpService creates a new OtpService
func NewOtpService(store OtpStore, email EmailSender, cfg config.OtpConfig, logger *slog.Logger) *OtpService {
	return NewOtpServiceWithClock(store, email, cfg, logger, time.Now)
}

// NewOtpServiceWithClock creates an OtpService with an injected clock, for
// deterministic tests.
func NewOtpServiceWithClock(store OtpStore, email EmailSender, cfg config.OtpConfig, logger *slog.Logger, clock func() time.Time) *OtpService {
	return &OtpService{
		store:  store,
		email:  email,
		config: cfg,
		logger: logger,
		now:    clock,
	}
}

// GenerateAndSendOtp issues a fresh code for the (user, purpose) pair and
// emails it. Issuance invalidates all prior unused codes for the pair, so at
// most one valid code is ever outstanding. The row is persisted before the
// email is sent; a send failure surfaces as an error but never leaves the
// code in an ambiguous state.
func (s *OtpService) GenerateAndSendOtp(ctx context.Context, user *models.User, purpose models.OtpPurpose) (string, error) {
	if user.Email == "" {
		return "", models.ErrBadRequest
	}

	code, err := s.generateCode()
	if err != nil {
		s.logger.Error("failed to generate otp code", slog.Any("error", err))
		return "", models.ErrInternalServer
	}

	otp := &models.OneTimePassword{
		UserID:    user.ID,
		Code:      code,
		Purpose:   purpose,
		ExpiresAt: s.now().Add(s.config.Expiry),
	}

	if err := s.store.InvalidateAndCreate(ctx, otp); err != nil {
		s.logger.Error("failed to persist otp",
			slog.String("username", user.Username),
			slog.Any("error", err))
		return "", models.ErrInternalServer
	}

	validMinutes := int(s.config.Expiry.Minutes())
	switch purpose {
	case models.OtpPurposeLogin:
		err = s.email.SendOtpEmail(ctx, user.Email, user.Username, code, validMinutes)
	case models.OtpPurposePasswordReset:
		err = s.email.SendPasswordResetEmail(ctx, user.Email, user.Username, code, validMinutes)
	case models.OtpPurposeEmailVerification:
		err = s.email.SendOtpEmail(ctx, user.Email, user.Username, code, validMinutes)
	default:
		return "", fmt.Errorf("unknown otp purpose %q", purpose)
	}
	if err != nil {
		s.logger.Error("failed to send otp email",
			slog.String("username", user.Username),
			slog.Any("error", err))
		return "", models.ErrInternalServer
	}

	s.logger.Info("otp issued",
		slog.String("username", user.Username),
		slog.String("purpose", string(purpose)))

	return code, nil
}

// VerifyOtp checks a submitted code against the user's valid codes for the
// purpose and consumes it on match. A miss is a normal negative outcome, not
// an error.
func (s *OtpService) VerifyOtp(ctx context.Context, user *models.User, code string, purpose models.OtpPurpose) (bool, error) {
	if code == "" {
		return false, nil
	}

	otp, err := s.store.FindValidByCode(ctx, user.ID, code, purpose, s.now())
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Warn("otp verification failed",
				slog.String("username", user.Username),
				slog.String("purpose", string(purpose)))
			return false, nil
		}
		s.logger.Error("otp lookup failed", slog.Any("error", err))
		return false, models.ErrInternalServer
	}

	if err := s.store.MarkUsed(ctx, otp.ID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Lost the race to another verification of the same code
			return false, nil
		}
		s.logger.Error("failed to consume otp", slog.Any("error", err))
		return false, models.ErrInternalServer
	}

	s.logger.Info("otp verified",
		slog.String("username", user.Username),
		slog.String("purpose", string(purpose)))
	return true, nil
}

// generateCode produces a numeric code of the configured length from a
// cryptographically secure source.
func (s *OtpService) generateCode() (string, error) {
	digits := make([]byte, s.config.Length)
	ten := big.NewInt(10)
	for i := range digits {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}
