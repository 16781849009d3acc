package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/calder-ross/bastion/internal/models"
	pkgauth "github.com/calder-ross/bastion/pkg/auth"
)

// Login outcome states. A challenged login is not authenticated until the
// secondary verification completes.
const (
	LoginStatusAuthenticated = "AUTHENTICATED"
	LoginStatusChallenged    = "CHALLENGE_REQUIRED"
)

// LoginResult is what a successful primary authentication hands back to the
// caller. When Status is CHALLENGE_REQUIRED the ChallengeToken must be
// presented to CompleteChallenge together with a verification code.
type LoginResult struct {
	Status              string
	User                *models.User
	RiskScore           int
	RiskLevel           models.RiskLevel
	ChallengeToken      string
	VerificationMethods []string
}

// RiskAssessor is the slice of risk evaluation the orchestrator needs
type RiskAssessor interface {
	AssessLoginRisk(ctx context.Context, username string, loginCtx models.LoginContext) (*models.RiskAssessmentResult, error)
	RecordLoginAttempt(ctx context.Context, username string, loginCtx models.LoginContext, successful bool, riskScore int, riskFactors []string, verificationRequired bool, verificationMethod *string) error
	TrustDevice(ctx context.Context, username, fingerprint, deviceName string, loginCtx *models.LoginContext) error
}

// AccountGate covers lockout state and the per-account failure counter
type AccountGate interface {
	CheckLockout(ctx context.Context, user *models.User) (bool, error)
	HandleLoginSuccess(ctx context.Context, user *models.User) error
	HandleLoginFailure(ctx context.Context, user *models.User) (bool, error)
}

// OtpVerifier issues and checks email one-time passwords
type OtpVerifier interface {
	GenerateAndSendOtp(ctx context.Context, user *models.User, purpose models.OtpPurpose) (string, error)
	VerifyOtp(ctx context.Context, user *models.User, code string, purpose models.OtpPurpose) (bool, error)
}

// MFAVerifier checks authenticator codes and backup codes
type MFAVerifier interface {
	VerifyTOTP(ctx context.Context, username, code string) (bool, error)
	VerifyBackupCode(ctx context.Context, username, code string) (bool, error)
}

// Limiter throttles a keyed action
type Limiter interface {
	CheckAndRecord(key, action string) error
}

// ChallengeTokens signs and validates the token that carries challenge state
// between the two authentication steps
type ChallengeTokens interface {
	Issue(state models.ChallengeState) (string, error)
	Parse(token string) (*models.ChallengeState, error)
}

// LoginUserStore is the read path the orchestrator needs
type LoginUserStore interface {
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// LoginService drives the full login decision: rate limiting, risk
// assessment, credential verification, and the step-up challenge when risk
// warrants it. Every decision it makes lands in the attempt ledger and the
// audit trail.
type LoginService struct {
	users      LoginUserStore
	accounts   AccountGate
	risk       RiskAssessor
	otp        OtpVerifier
	mfa        MFAVerifier
	limiter    Limiter
	challenges ChallengeTokens
	audit      *AuditService
	logger     *slog.Logger
}

// NewLoginService creates a new LoginService
func NewLoginService(
	users LoginUserStore,
	accounts AccountGate,
	risk RiskAssessor,
	otp OtpVerifier,
	mfa MFAVerifier,
	limiter Limiter,
	challenges ChallengeTokens,
	audit *AuditService,
	logger *slog.Logger,
) *LoginService {
	return &LoginService{
		users:      users,
		accounts:   accounts,
		risk:       risk,
		otp:        otp,
		mfa:        mfa,
		limiter:    limiter,
		challenges: challenges,
		audit:      audit,
		logger:     logger,
	}
}

// Login runs primary authentication. The decision order is fixed: throttle,
// assess risk, block critical risk before touching credentials, then check
// lockout and verify the password. Low-risk logins complete immediately;
// anything above the verification threshold gets a challenge token instead
// of a session.
func (s *LoginService) Login(ctx context.Context, username, password string, loginCtx models.LoginContext) (*LoginResult, error) {
	if err := s.limiter.CheckAndRecord("ip:"+loginCtx.IPAddress, "login"); err != nil {
		return nil, err
	}
	if err := s.limiter.CheckAndRecord("account:"+username, "login"); err != nil {
		return nil, err
	}

	assessment, err := s.risk.AssessLoginRisk(ctx, username, loginCtx)
	if err != nil {
		s.logger.Error("risk assessment failed",
			slog.String("username", username),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	// Critical risk is refused before the password is even looked at, so a
	// blocked attacker learns nothing about the credential.
	if assessment.RiskLevel == models.RiskLevelCritical {
		method := models.VerificationMethodBlock
		s.recordAttempt(ctx, username, loginCtx, false, assessment, true, &method)
		s.audit.LogEventWithContext(ctx, models.AuditEventTypeLoginBlocked, username, false,
			fmt.Sprintf("critical risk score %d", assessment.RiskScore), &loginCtx)
		return nil, models.ErrCriticalRisk
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Unknown users score critical and never reach here; treat a miss
			// as a plain failed login anyway.
			s.recordAttempt(ctx, username, loginCtx, false, assessment, false, nil)
			return nil, models.ErrUnauthorized
		}
		return nil, models.ErrInternalServer
	}

	if !user.Enabled {
		s.recordAttempt(ctx, username, loginCtx, false, assessment, false, nil)
		return nil, models.ErrAccountDisabled
	}

	locked, err := s.accounts.CheckLockout(ctx, user)
	if err != nil {
		return nil, err
	}
	if locked {
		s.recordAttempt(ctx, username, loginCtx, false, assessment, false, nil)
		s.audit.LogEventWithContext(ctx, models.AuditEventTypeLogin, username, false,
			"account locked", &loginCtx)
		return nil, models.ErrAccountLocked
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		if _, ferr := s.accounts.HandleLoginFailure(ctx, user); ferr != nil {
			s.logger.Error("failed to record login failure",
				slog.String("username", username),
				slog.Any("error", ferr))
		}
		s.recordAttempt(ctx, username, loginCtx, false, assessment, false, nil)
		s.audit.LogEventWithContext(ctx, models.AuditEventTypeLogin, username, false,
			"invalid credentials", &loginCtx)
		return nil, models.ErrUnauthorized
	}

	if !assessment.RequiresAdditionalVerification {
		if err := s.accounts.HandleLoginSuccess(ctx, user); err != nil {
			return nil, models.ErrInternalServer
		}
		s.recordAttempt(ctx, username, loginCtx, true, assessment, false, nil)
		s.audit.LogEventWithContext(ctx, models.AuditEventTypeLogin, username, true, "", &loginCtx)

		return &LoginResult{
			Status:    LoginStatusAuthenticated,
			User:      user,
			RiskScore: assessment.RiskScore,
			RiskLevel: assessment.RiskLevel,
		}, nil
	}

	token, err := s.challenges.Issue(models.ChallengeState{
		Username:    username,
		RiskScore:   assessment.RiskScore,
		RiskLevel:   assessment.RiskLevel,
		RiskFactors: assessment.RiskFactors,
		Context:     loginCtx,
	})
	if err != nil {
		s.logger.Error("failed to issue challenge token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("login challenged",
		slog.String("username", username),
		slog.Int("risk_score", assessment.RiskScore),
		slog.String("risk_level", string(assessment.RiskLevel)))

	return &LoginResult{
		Status:              LoginStatusChallenged,
		RiskScore:           assessment.RiskScore,
		RiskLevel:           assessment.RiskLevel,
		ChallengeToken:      token,
		VerificationMethods: assessment.RecommendedVerificationMethods,
	}, nil
}

// SendChallengeOtp issues an email one-time password for an open challenge.
// Issuing a fresh code invalidates any earlier one for the same purpose.
func (s *LoginService) SendChallengeOtp(ctx context.Context, challengeToken string) error {
	state, err := s.challenges.Parse(challengeToken)
	if err != nil {
		return err
	}

	if err := s.limiter.CheckAndRecord("account:"+state.Username, "otp"); err != nil {
		return err
	}

	user, err := s.users.GetByUsername(ctx, state.Username)
	if err != nil {
		return models.ErrUnauthorized
	}

	if _, err := s.otp.GenerateAndSendOtp(ctx, user, models.OtpPurposeLogin); err != nil {
		return models.ErrInternalServer
	}

	s.audit.LogEventWithContext(ctx, models.AuditEventTypeOTPIssued, state.Username, true,
		"challenge verification code", &state.Context)
	return nil
}

// StartOtpLogin begins a passwordless login by emailing a code to the
// address. The outcome is deliberately indistinct: an unregistered, disabled,
// or locked address gets the same nil result as an active one.
func (s *LoginService) StartOtpLogin(ctx context.Context, email string, loginCtx models.LoginContext) error {
	if err := s.limiter.CheckAndRecord("ip:"+loginCtx.IPAddress, "otp_login"); err != nil {
		return err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.audit.LogEventWithContext(ctx, models.AuditEventTypeOTPIssued, "", false,
				"otp login for unregistered email", &loginCtx)
			return nil
		}
		return models.ErrInternalServer
	}

	if !user.Enabled {
		s.audit.LogEventWithContext(ctx, models.AuditEventTypeOTPIssued, user.Username, false,
			"otp login for disabled account", &loginCtx)
		return nil
	}

	locked, err := s.accounts.CheckLockout(ctx, user)
	if err != nil {
		return err
	}
	if locked {
		s.audit.LogEventWithContext(ctx, models.AuditEventTypeOTPIssued, user.Username, false,
			"otp login while locked", &loginCtx)
		return nil
	}

	if _, err := s.otp.GenerateAndSendOtp(ctx, user, models.OtpPurposeLogin); err != nil {
		return models.ErrInternalServer
	}

	s.audit.LogEventWithContext(ctx, models.AuditEventTypeOTPIssued, user.Username, true,
		"passwordless login code", &loginCtx)
	return nil
}

// CompleteOtpLogin finishes a passwordless login by consuming the emailed
// code. Wrong codes and unknown addresses fail identically.
func (s *LoginService) CompleteOtpLogin(ctx context.Context, email, code string, loginCtx models.LoginContext) (*LoginResult, error) {
	if err := s.limiter.CheckAndRecord("ip:"+loginCtx.IPAddress, "otp_login"); err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrVerificationFailed
		}
		return nil, models.ErrInternalServer
	}

	if err := s.limiter.CheckAndRecord("account:"+user.Username, "otp_login"); err != nil {
		return nil, err
	}

	if !user.Enabled {
		return nil, models.ErrAccountDisabled
	}

	locked, err := s.accounts.CheckLockout(ctx, user)
	if err != nil {
		return nil, err
	}
	if locked {
		s.audit.LogEventWithContext(ctx, models.AuditEventTypeLogin, user.Username, false,
			"account locked", &loginCtx)
		return nil, models.ErrAccountLocked
	}

	ok, err := s.otp.VerifyOtp(ctx, user, code, models.OtpPurposeLogin)
	if err != nil {
		return nil, models.ErrInternalServer
	}
	if !ok {
		s.audit.LogEventWithContext(ctx, models.AuditEventTypeOTPVerify, user.Username, false,
			"passwordless login", &loginCtx)
		return nil, models.ErrVerificationFailed
	}

	if err := s.accounts.HandleLoginSuccess(ctx, user); err != nil {
		return nil, models.ErrInternalServer
	}

	s.audit.LogEventWithContext(ctx, models.AuditEventTypeLogin, user.Username, true,
		"passwordless email otp", &loginCtx)

	return &LoginResult{
		Status:    LoginStatusAuthenticated,
		User:      user,
		RiskLevel: models.RiskLevelLow,
	}, nil
}

// CompleteChallenge verifies a secondary factor against an open challenge and
// finishes the login. Failures are deliberately indistinct: the caller learns
// that verification failed, never which mechanism rejected it or why.
func (s *LoginService) CompleteChallenge(ctx context.Context, challengeToken, method, code string, trustDevice bool, deviceName string) (*LoginResult, error) {
	state, err := s.challenges.Parse(challengeToken)
	if err != nil {
		return nil, err
	}

	if err := s.limiter.CheckAndRecord("account:"+state.Username, "challenge"); err != nil {
		return nil, err
	}

	user, err := s.users.GetByUsername(ctx, state.Username)
	if err != nil {
		return nil, models.ErrUnauthorized
	}

	ok, err := s.verifySecondFactor(ctx, user, method, code)
	if err != nil {
		s.logger.Error("secondary verification errored",
			slog.String("username", state.Username),
			slog.String("method", method),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if !ok {
		// Secondary failures do not re-run risk scoring; the recorded attempt
		// carries the score from the original assessment.
		s.recordChallengeAttempt(ctx, state, false, method)
		s.audit.LogEventWithContext(ctx, models.AuditEventTypeMFAVerify, state.Username, false,
			method, &state.Context)
		return nil, models.ErrVerificationFailed
	}

	if err := s.accounts.HandleLoginSuccess(ctx, user); err != nil {
		return nil, models.ErrInternalServer
	}
	s.recordChallengeAttempt(ctx, state, true, method)
	s.audit.LogEventWithContext(ctx, models.AuditEventTypeLogin, state.Username, true,
		"verified via "+method, &state.Context)

	if trustDevice && state.Context.DeviceFingerprint != nil && *state.Context.DeviceFingerprint != "" {
		if err := s.risk.TrustDevice(ctx, state.Username, *state.Context.DeviceFingerprint, deviceName, &state.Context); err != nil {
			// Trust is best effort; the login itself already succeeded.
			s.logger.Error("failed to trust device",
				slog.String("username", state.Username),
				slog.Any("error", err))
		}
	}

	return &LoginResult{
		Status:    LoginStatusAuthenticated,
		User:      user,
		RiskScore: state.RiskScore,
		RiskLevel: state.RiskLevel,
	}, nil
}

func (s *LoginService) verifySecondFactor(ctx context.Context, user *models.User, method, code string) (bool, error) {
	switch method {
	case models.VerificationMethodTOTP:
		return s.mfa.VerifyTOTP(ctx, user.Username, code)
	case models.VerificationMethodEmailOTP:
		return s.otp.VerifyOtp(ctx, user, code, models.OtpPurposeLogin)
	case models.VerificationMethodBackupCode:
		return s.mfa.VerifyBackupCode(ctx, user.Username, code)
	default:
		return false, nil
	}
}

func (s *LoginService) recordAttempt(ctx context.Context, username string, loginCtx models.LoginContext, successful bool, assessment *models.RiskAssessmentResult, verificationRequired bool, method *string) {
	err := s.risk.RecordLoginAttempt(ctx, username, loginCtx, successful,
		assessment.RiskScore, assessment.RiskFactors, verificationRequired, method)
	if err != nil {
		s.logger.Error("failed to record login attempt",
			slog.String("username", username),
			slog.Any("error", err))
	}
}

// recordChallengeAttempt appends the outcome of a secondary verification to
// the attempt ledger. Failed rows carry the verification method and count
// toward the failure-velocity signal: repeated wrong guesses against one
// challenge raise the score of the account's next assessment.
func (s *LoginService) recordChallengeAttempt(ctx context.Context, state *models.ChallengeState, successful bool, method string) {
	err := s.risk.RecordLoginAttempt(ctx, state.Username, state.Context, successful,
		state.RiskScore, state.RiskFactors, true, &method)
	if err != nil {
		s.logger.Error("failed to record login attempt",
			slog.String("username", state.Username),
			slog.Any("error", err))
	}
}
