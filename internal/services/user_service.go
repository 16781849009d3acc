package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/calder-ross/bastion/internal/models"
	pkgauth "github.com/calder-ross/bastion/pkg/auth"
	pkglogger "github.com/calder-ross/bastion/pkg/logger"
)

const (
	maxFailedLoginAttempts = 5
	accountLockDuration    = 30 * time.Minute

	// How many previous password hashes are retained and refused for reuse
	passwordHistoryDepth = 5
)

// UserStore is the account store consumed by user and login services
type UserStore interface {
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
}

// PasswordHistoryStore retains recent password hashes per user
type PasswordHistoryStore interface {
	ListRecentHashes(ctx context.Context, userID string, limit int) ([]string, error)
	Add(ctx context.Context, userID, passwordHash string, keep int) error
}

// UserService handles registration, password changes and resets, email
// verification, and the per-account failure counter with its lockout
// threshold.
type UserService struct {
	users   UserStore
	history PasswordHistoryStore
	otp     OtpVerifier
	audit   *AuditService
	logger  *slog.Logger
}

// NewUserService creates a new UserService
func NewUserService(users UserStore, history PasswordHistoryStore, otp OtpVerifier, audit *AuditService, logger *slog.Logger) *UserService {
	return &UserService{
		users:   users,
		history: history,
		otp:     otp,
		audit:   audit,
		logger:  logger,
	}
}

// Register creates a new account after password policy validation and sends
// the email verification code
func (s *UserService) Register(ctx context.Context, username, email, password, fullName string) (*models.User, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if username == "" || email == "" {
		return nil, models.ErrBadRequest
	}

	if err := pkgauth.ValidatePassword(password, username); err != nil {
		return nil, err
	}

	taken, err := s.users.ExistsByUsername(ctx, username)
	if err != nil {
		s.logger.Error("failed to check username", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if taken {
		return nil, models.ErrConflict
	}

	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	user, err := s.users.Create(ctx, &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		FullName:     fullName,
		Enabled:      true,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.recordPasswordHistory(ctx, user.ID, hash)

	s.logger.Info("user registered", slog.String("username", username))
	s.audit.LogEvent(ctx, models.AuditEventTypeRegister, username, true, "")

	// Verification is follow-up work for the new account; a send failure
	// must not undo the registration.
	if _, err := s.otp.GenerateAndSendOtp(ctx, user, models.OtpPurposeEmailVerification); err != nil {
		s.logger.Error("failed to send email verification code",
			slog.String("username", username),
			slog.Any("error", err))
	} else {
		s.audit.LogEvent(ctx, models.AuditEventTypeOTPIssued, username, true, "email verification code")
	}

	return user, nil
}

// CheckLockout reports whether the account is locked, auto-unlocking when the
// lock window has elapsed.
func (s *UserService) CheckLockout(ctx context.Context, user *models.User) (bool, error) {
	if !user.AccountLocked {
		return false, nil
	}

	if user.LockedAt != nil && time.Since(*user.LockedAt) >= accountLockDuration {
		user.AccountLocked = false
		user.LockedAt = nil
		user.FailedLoginAttempts = 0
		if err := s.users.Update(ctx, user); err != nil {
			s.logger.Error("failed to unlock account", slog.Any("error", err))
			return true, models.ErrInternalServer
		}
		s.logger.Info("account auto-unlocked", slog.String("username", user.Username))
		s.audit.LogEvent(ctx, models.AuditEventTypeAccountUnlocked, user.Username, true, "")
		return false, nil
	}

	return true, nil
}

// HandleLoginSuccess resets the failure counter and stamps the login time
func (s *UserService) HandleLoginSuccess(ctx context.Context, user *models.User) error {
	now := time.Now()
	user.FailedLoginAttempts = 0
	user.LastLoginAt = &now
	if err := s.users.Update(ctx, user); err != nil {
		s.logger.Error("failed to record login success", slog.Any("error", err))
		return err
	}
	return nil
}

// HandleLoginFailure increments the failure counter and locks the account at
// the threshold. Returns whether the account is now locked.
func (s *UserService) HandleLoginFailure(ctx context.Context, user *models.User) (bool, error) {
	now := time.Now()
	user.FailedLoginAttempts++
	user.LastFailedLoginAt = &now

	locked := false
	if user.FailedLoginAttempts >= maxFailedLoginAttempts {
		user.AccountLocked = true
		user.LockedAt = &now
		locked = true
		s.logger.Warn("account locked",
			slog.String("username", user.Username),
			slog.Int("failed_attempts", user.FailedLoginAttempts))
		s.audit.LogEvent(ctx, models.AuditEventTypeAccountLocked, user.Username, false,
			"consecutive login failures")
	}

	if err := s.users.Update(ctx, user); err != nil {
		s.logger.Error("failed to record login failure", slog.Any("error", err))
		return locked, err
	}
	return locked, nil
}

// ChangePassword verifies the current password and applies the policy and
// reuse check to the new one
func (s *UserService) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return err
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, oldPassword); err != nil {
		return models.ErrUnauthorized
	}

	if err := s.applyNewPassword(ctx, user, newPassword); err != nil {
		return err
	}

	s.logger.Info("password changed", slog.String("username", username))
	s.audit.LogEvent(ctx, models.AuditEventTypePasswordChanged, username, true, "")
	return nil
}

// RequestPasswordReset emails a reset code to the address when it belongs to
// an active account. The outcome is deliberately indistinct: an unregistered
// or disabled address gets the same nil result as a real one.
func (s *UserService) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Warn("password reset requested for unknown email",
				slog.String("email", pkglogger.SanitizedEmail(email)))
			s.audit.LogEvent(ctx, models.AuditEventTypeOTPIssued, "", false,
				"password reset for unregistered email")
			return nil
		}
		s.logger.Error("failed to look up email", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if !user.Enabled {
		s.audit.LogEvent(ctx, models.AuditEventTypeOTPIssued, user.Username, false,
			"password reset for disabled account")
		return nil
	}

	if _, err := s.otp.GenerateAndSendOtp(ctx, user, models.OtpPurposePasswordReset); err != nil {
		return models.ErrInternalServer
	}

	s.audit.LogEvent(ctx, models.AuditEventTypeOTPIssued, user.Username, true, "password reset code")
	return nil
}

// ResetPassword consumes a reset code and replaces the password. A completed
// reset also clears any lockout, since the mailbox owner has just proven
// control of the account.
func (s *UserService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrVerificationFailed
		}
		return models.ErrInternalServer
	}

	ok, err := s.otp.VerifyOtp(ctx, user, code, models.OtpPurposePasswordReset)
	if err != nil {
		return models.ErrInternalServer
	}
	if !ok {
		s.audit.LogEvent(ctx, models.AuditEventTypeOTPVerify, user.Username, false, "password reset")
		return models.ErrVerificationFailed
	}

	if err := s.applyNewPassword(ctx, user, newPassword); err != nil {
		return err
	}

	user.AccountLocked = false
	user.LockedAt = nil
	user.FailedLoginAttempts = 0
	if err := s.users.Update(ctx, user); err != nil {
		s.logger.Error("failed to clear lockout after reset", slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("password reset", slog.String("username", user.Username))
	s.audit.LogEvent(ctx, models.AuditEventTypeOTPVerify, user.Username, true, "password reset")
	s.audit.LogEvent(ctx, models.AuditEventTypePasswordChanged, user.Username, true, "via password reset")
	return nil
}

// RequestEmailVerification re-sends the verification code for an unverified
// address. Like RequestPasswordReset, the outcome is indistinct.
func (s *UserService) RequestEmailVerification(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Warn("verification requested for unknown email",
				slog.String("email", pkglogger.SanitizedEmail(email)))
			return nil
		}
		return models.ErrInternalServer
	}

	if user.EmailVerified {
		return nil
	}

	if _, err := s.otp.GenerateAndSendOtp(ctx, user, models.OtpPurposeEmailVerification); err != nil {
		return models.ErrInternalServer
	}

	s.audit.LogEvent(ctx, models.AuditEventTypeOTPIssued, user.Username, true, "email verification code")
	return nil
}

// VerifyEmail consumes a verification code and marks the address verified
func (s *UserService) VerifyEmail(ctx context.Context, email, code string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrVerificationFailed
		}
		return models.ErrInternalServer
	}

	ok, err := s.otp.VerifyOtp(ctx, user, code, models.OtpPurposeEmailVerification)
	if err != nil {
		return models.ErrInternalServer
	}
	if !ok {
		s.audit.LogEvent(ctx, models.AuditEventTypeOTPVerify, user.Username, false, "email verification")
		return models.ErrVerificationFailed
	}

	user.EmailVerified = true
	if err := s.users.Update(ctx, user); err != nil {
		s.logger.Error("failed to mark email verified", slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("email verified", slog.String("username", user.Username))
	s.audit.LogEvent(ctx, models.AuditEventTypeOTPVerify, user.Username, true, "email verification")
	return nil
}

// applyNewPassword runs the policy and reuse checks, then stores the new
// hash and appends it to the history.
func (s *UserService) applyNewPassword(ctx context.Context, user *models.User, newPassword string) error {
	if err := pkgauth.ValidatePassword(newPassword, user.Username); err != nil {
		return err
	}

	reused, err := s.isRecentPassword(ctx, user.ID, newPassword)
	if err != nil {
		return models.ErrInternalServer
	}
	if reused {
		return &pkgauth.PasswordValidationError{
			Errors: []string{"must not match a recently used password"},
		}
	}

	hash, err := pkgauth.HashPassword(newPassword)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	now := time.Now()
	user.PasswordHash = hash
	user.PasswordChangedAt = &now
	if err := s.users.Update(ctx, user); err != nil {
		s.logger.Error("failed to update password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.recordPasswordHistory(ctx, user.ID, hash)
	return nil
}

func (s *UserService) isRecentPassword(ctx context.Context, userID, password string) (bool, error) {
	hashes, err := s.history.ListRecentHashes(ctx, userID, passwordHistoryDepth)
	if err != nil {
		s.logger.Error("failed to read password history", slog.Any("error", err))
		return false, err
	}

	for _, hash := range hashes {
		if pkgauth.ComparePassword(hash, password) == nil {
			return true, nil
		}
	}
	return false, nil
}

func (s *UserService) recordPasswordHistory(ctx context.Context, userID, hash string) {
	if err := s.history.Add(ctx, userID, hash, passwordHistoryDepth); err != nil {
		// The hash on the user row is authoritative; a history miss only
		// weakens the reuse check for this one rotation.
		s.logger.Error("failed to record password history", slog.Any("error", err))
	}
}
