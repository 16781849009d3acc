package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/calder-ross/bastion/internal/auth"
	"github.com/calder-ross/bastion/internal/config"
	"github.com/calder-ross/bastion/internal/models"
	"golang.org/x/crypto/bcrypt"
)

// MFAUserStore is the account store as seen by the MFA service
type MFAUserStore interface {
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
}

// BackupCodeStore handles persistence of hashed backup codes
type BackupCodeStore interface {
	ReplaceAll(ctx context.Context, userID string, codeHashes []string) error
	ListUnused(ctx context.Context, userID string) ([]*models.BackupCode, error)
	MarkUsed(ctx context.Context, id string, usedAt time.Time) error
	DeleteByUser(ctx context.Context, userID string) error
}

// MFASetup is returned when TOTP enrollment starts
type MFASetup struct {
	Secret          string
	ProvisioningURI string
	QRCodeDataURL   string
}

// MFAService manages TOTP enrollment and secondary code verification.
// Verification failures are always reported generically: callers never learn
// whether TOTP, email OTP, or a backup code was the rejected mechanism.
type MFAService struct {
	users       MFAUserStore
	backupCodes BackupCodeStore
	totp        *auth.TOTPManager
	audit       *AuditService
	config      config.OtpConfig
	logger      *slog.Logger
}

// NewMFAService creates a new MFAService
func NewMFAService(users MFAUserStore, backupCodes BackupCodeStore, totp *auth.TOTPManager, audit *AuditService, cfg config.OtpConfig, logger *slog.Logger) *MFAService {
	return &MFAService{
		users:       users,
		backupCodes: backupCodes,
		totp:        totp,
		audit:       audit,
		config:      cfg,
		logger:      logger,
	}
}

// InitiateSetup generates a TOTP secret for the user and returns the
// provisioning URI and QR code. MFA is not enabled until the first code is
// confirmed.
func (s *MFAService) InitiateSetup(ctx context.Context, username string) (*MFASetup, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	if user.MFAEnabled {
		return nil, models.ErrConflict
	}

	secret, err := s.totp.GenerateSecret(user.Email)
	if err != nil {
		s.logger.Error("failed to generate TOTP secret", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	uri, qr, err := s.totp.ProvisioningQR(user.Email, secret)
	if err != nil {
		s.logger.Error("failed to build provisioning QR", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	user.MFASecret = &secret
	if err := s.users.Update(ctx, user); err != nil {
		s.logger.Error("failed to store TOTP secret", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("mfa setup initiated", slog.String("username", username))

	return &MFASetup{
		Secret:          secret,
		ProvisioningURI: uri,
		QRCodeDataURL:   qr,
	}, nil
}

// ConfirmSetup verifies the first TOTP code, enables MFA, and generates the
// backup code set. The plaintext codes are returned exactly once.
func (s *MFAService) ConfirmSetup(ctx context.Context, username, code string) ([]string, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	if user.MFASecret == nil {
		return nil, models.ErrBadRequest
	}
	if user.MFAEnabled {
		return nil, models.ErrConflict
	}

	if !s.totp.VerifyCode(*user.MFASecret, code) {
		s.logger.Warn("invalid TOTP code during setup", slog.String("username", username))
		s.audit.LogEvent(ctx, models.AuditEventTypeMFASetup, username, false, "invalid confirmation code")
		return nil, models.ErrVerificationFailed
	}

	codes, err := s.generateAndStoreBackupCodes(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user.MFAEnabled = true
	user.MFAEnrolledAt = &now
	if err := s.users.Update(ctx, user); err != nil {
		s.logger.Error("failed to enable MFA", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("mfa enabled", slog.String("username", username))
	s.audit.LogEvent(ctx, models.AuditEventTypeMFASetup, username, true, "")
	return codes, nil
}

// VerifyTOTP validates a TOTP code for a user with MFA enabled
func (s *MFAService) VerifyTOTP(ctx context.Context, username, code string) (bool, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, models.ErrInternalServer
	}

	if !user.MFAEnabled || user.MFASecret == nil || code == "" {
		return false, nil
	}

	if !s.totp.VerifyCode(*user.MFASecret, code) {
		s.logger.Warn("totp verification failed", slog.String("username", username))
		return false, nil
	}

	return true, nil
}

// VerifyBackupCode scans the user's unused backup codes for a hash match and
// consumes the match. A consumed code never verifies again.
func (s *MFAService) VerifyBackupCode(ctx context.Context, username, code string) (bool, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, models.ErrInternalServer
	}

	if code == "" {
		return false, nil
	}

	unused, err := s.backupCodes.ListUnused(ctx, user.ID)
	if err != nil {
		s.logger.Error("failed to list backup codes", slog.Any("error", err))
		return false, models.ErrInternalServer
	}

	for _, entry := range unused {
		if bcrypt.CompareHashAndPassword([]byte(entry.CodeHash), []byte(code)) == nil {
			if err := s.backupCodes.MarkUsed(ctx, entry.ID, time.Now()); err != nil {
				if errors.Is(err, models.ErrNotFound) {
					// Another verification consumed it first
					return false, nil
				}
				s.logger.Error("failed to consume backup code", slog.Any("error", err))
				return false, models.ErrInternalServer
			}

			s.logger.Info("backup code used", slog.String("username", username))
			return true, nil
		}
	}

	s.logger.Warn("backup code verification failed", slog.String("username", username))
	return false, nil
}

// RegenerateBackupCodes replaces the entire backup code set
func (s *MFAService) RegenerateBackupCodes(ctx context.Context, username string) ([]string, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	if !user.MFAEnabled {
		return nil, models.ErrBadRequest
	}

	codes, err := s.generateAndStoreBackupCodes(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("backup codes regenerated", slog.String("username", username))
	s.audit.LogEvent(ctx, models.AuditEventTypeMFASetup, username, true, "backup codes regenerated")
	return codes, nil
}

// DisableMFA turns MFA off and destroys the secret and backup code set
func (s *MFAService) DisableMFA(ctx context.Context, username string) error {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return err
	}

	if err := s.backupCodes.DeleteByUser(ctx, user.ID); err != nil {
		s.logger.Error("failed to delete backup codes", slog.Any("error", err))
		return models.ErrInternalServer
	}

	user.MFAEnabled = false
	user.MFASecret = nil
	user.MFAEnrolledAt = nil
	if err := s.users.Update(ctx, user); err != nil {
		s.logger.Error("failed to disable MFA", slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("mfa disabled", slog.String("username", username))
	s.audit.LogEvent(ctx, models.AuditEventTypeMFADisable, username, true, "")
	return nil
}

func (s *MFAService) generateAndStoreBackupCodes(ctx context.Context, userID string) ([]string, error) {
	codes, err := s.totp.GenerateBackupCodes(s.config.BackupCodeCount)
	if err != nil {
		s.logger.Error("failed to generate backup codes", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	hashes := make([]string, len(codes))
	for i, code := range codes {
		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			s.logger.Error("failed to hash backup code", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		hashes[i] = string(hash)
	}

	if err := s.backupCodes.ReplaceAll(ctx, userID, hashes); err != nil {
		s.logger.Error("failed to store backup codes", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return codes, nil
}
