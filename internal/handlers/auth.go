package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/calder-ross/bastion/internal/geo"
	"github.com/calder-ross/bastion/internal/models"
	"github.com/calder-ross/bastion/internal/services"
	pkgauth "github.com/calder-ross/bastion/pkg/auth"
	pkghttp "github.com/calder-ross/bastion/pkg/http"
)

// LoginServiceInterface defines the interface for the login decision flow
type LoginServiceInterface interface {
	Login(ctx context.Context, username, password string, loginCtx models.LoginContext) (*services.LoginResult, error)
	CompleteChallenge(ctx context.Context, challengeToken, method, code string, trustDevice bool, deviceName string) (*services.LoginResult, error)
	SendChallengeOtp(ctx context.Context, challengeToken string) error
	StartOtpLogin(ctx context.Context, email string, loginCtx models.LoginContext) error
	CompleteOtpLogin(ctx context.Context, email, code string, loginCtx models.LoginContext) (*services.LoginResult, error)
}

// UserServiceInterface defines the interface for account management
type UserServiceInterface interface {
	Register(ctx context.Context, username, email, password, fullName string) (*models.User, error)
	ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) error
	RequestEmailVerification(ctx context.Context, email string) error
	VerifyEmail(ctx context.Context, email, code string) error
}

// OAuth2ServiceInterface defines the interface for provider account linking
type OAuth2ServiceInterface interface {
	HandleProviderLogin(ctx context.Context, provider string, attrs map[string]any) (*models.User, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	login      LoginServiceInterface
	users      UserServiceInterface
	oauth2     OAuth2ServiceInterface
	geoLookup  geo.Lookup
	ipResolver *pkghttp.ClientIPResolver
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(
	login LoginServiceInterface,
	users UserServiceInterface,
	oauth2 OAuth2ServiceInterface,
	geoLookup geo.Lookup,
	ipResolver *pkghttp.ClientIPResolver,
) *AuthHandler {
	return &AuthHandler{
		login:      login,
		users:      users,
		oauth2:     oauth2,
		geoLookup:  geoLookup,
		ipResolver: ipResolver,
	}
}

// Request DTOs

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	FullName string `json:"full_name" validate:"max=128"`
}

// LoginRequest represents the request body for primary authentication
type LoginRequest struct {
	Username          string `json:"username" validate:"required"`
	Password          string `json:"password" validate:"required"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
}

// VerifyChallengeRequest represents the request body for the secondary
// verification step
type VerifyChallengeRequest struct {
	ChallengeToken string `json:"challenge_token" validate:"required"`
	Method         string `json:"method" validate:"required,oneof=TOTP EMAIL_OTP BACKUP_CODE"`
	// Length is not bounded here: email OTP length is configurable, and a
	// wrong-length code fails verification generically anyway.
	Code        string `json:"code" validate:"required,numeric"`
	TrustDevice bool   `json:"trust_device"`
	DeviceName  string `json:"device_name" validate:"max=128"`
}

// SendOtpRequest represents the request body for requesting an email OTP
type SendOtpRequest struct {
	ChallengeToken string `json:"challenge_token" validate:"required"`
}

// EmailRequest represents request bodies carrying only an email address
type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// EmailCodeRequest represents the request body for consuming an emailed code
type EmailCodeRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,numeric"`
}

// PasswordResetConfirmRequest represents the request body for completing a
// password reset
type PasswordResetConfirmRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Code        string `json:"code" validate:"required,numeric"`
	NewPassword string `json:"new_password" validate:"required"`
}

// ChangePasswordRequest represents the request body for a password change
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

// LoginResponse represents the outcome of primary authentication
type LoginResponse struct {
	Status              string   `json:"status"`
	Username            string   `json:"username,omitempty"`
	RiskScore           int      `json:"risk_score"`
	RiskLevel           string   `json:"risk_level"`
	ChallengeToken      string   `json:"challenge_token,omitempty"`
	VerificationMethods []string `json:"verification_methods,omitempty"`
}

// Register handles new account creation
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	_, err := h.users.Register(r.Context(), req.Username, req.Email, req.Password, strings.TrimSpace(req.FullName))
	if err != nil {
		var pve *pkgauth.PasswordValidationError
		if errors.As(err, &pve) {
			pkghttp.WriteBadRequest(w, pve.Error())
			return
		}
		pkghttp.WriteServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"message": "Account created"})
}

// Login handles primary authentication. Depending on the assessed risk the
// response is either a completed login or a challenge that must be answered
// via VerifyChallenge.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	loginCtx := h.buildLoginContext(r, req.DeviceFingerprint)

	result, err := h.login.Login(r.Context(), strings.TrimSpace(req.Username), req.Password, loginCtx)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	writeLoginResult(w, result)
}

// VerifyChallenge completes a challenged login with a secondary factor
func (h *AuthHandler) VerifyChallenge(w http.ResponseWriter, r *http.Request) {
	var req VerifyChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.login.CompleteChallenge(r.Context(), req.ChallengeToken, req.Method, req.Code,
		req.TrustDevice, strings.TrimSpace(req.DeviceName))
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	writeLoginResult(w, result)
}

// SendOtp issues an email one-time password for an open challenge
func (h *AuthHandler) SendOtp(w http.ResponseWriter, r *http.Request) {
	var req SendOtpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.login.SendChallengeOtp(r.Context(), req.ChallengeToken); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"message": "Verification code sent"})
}

// StartOtpLogin begins a passwordless login by emailing a one-time code.
// The response is the same whether or not the address is registered.
func (h *AuthHandler) StartOtpLogin(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	loginCtx := h.buildLoginContext(r, "")

	if err := h.login.StartOtpLogin(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)), loginCtx); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"message": "Verification code sent"})
}

// CompleteOtpLogin finishes a passwordless login with the emailed code
func (h *AuthHandler) CompleteOtpLogin(w http.ResponseWriter, r *http.Request) {
	var req EmailCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	loginCtx := h.buildLoginContext(r, "")

	result, err := h.login.CompleteOtpLogin(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)), req.Code, loginCtx)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	writeLoginResult(w, result)
}

// RequestPasswordReset emails a password reset code. Always responds 202 so
// the endpoint cannot be used to enumerate registered addresses.
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.users.RequestPasswordReset(r.Context(), req.Email); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"message": "Reset code sent"})
}

// ResetPassword completes a password reset with the emailed code
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.users.ResetPassword(r.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		var pve *pkgauth.PasswordValidationError
		if errors.As(err, &pve) {
			pkghttp.WriteBadRequest(w, pve.Error())
			return
		}
		pkghttp.WriteServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RequestEmailVerification re-sends the email verification code
func (h *AuthHandler) RequestEmailVerification(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.users.RequestEmailVerification(r.Context(), req.Email); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"message": "Verification code sent"})
}

// VerifyEmail consumes an email verification code
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req EmailCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.users.VerifyEmail(r.Context(), req.Email, req.Code); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"message": "Email verified"})
}

// OAuth2Login resolves an externally authenticated identity to a local
// account. The upstream handshake has already happened; the body carries the
// provider's attribute map.
func (h *AuthHandler) OAuth2Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider   string         `json:"provider" validate:"required,oneof=google github microsoft"`
		Attributes map[string]any `json:"attributes" validate:"required"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	user, err := h.oauth2.HandleProviderLogin(r.Context(), req.Provider, req.Attributes)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":   services.LoginStatusAuthenticated,
		"username": user.Username,
	})
}

// ChangePassword changes the password of the user named in the URL
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	username := usernameFromPath(r)
	if username == "" {
		pkghttp.WriteBadRequest(w, "Missing username")
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.users.ChangePassword(r.Context(), username, req.OldPassword, req.NewPassword); err != nil {
		var pve *pkgauth.PasswordValidationError
		if errors.As(err, &pve) {
			pkghttp.WriteBadRequest(w, pve.Error())
			return
		}
		pkghttp.WriteServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// buildLoginContext assembles the per-attempt environment: network identity
// from the request, geolocation from the lookup, and the local wall clock.
func (h *AuthHandler) buildLoginContext(r *http.Request, fingerprint string) models.LoginContext {
	now := time.Now()
	ip := h.ipResolver.Resolve(r)

	loginCtx := models.LoginContext{
		IPAddress: ip,
		UserAgent: r.Header.Get("User-Agent"),
		HourOfDay: now.Hour(),
		DayOfWeek: int(now.Weekday()),
	}

	if fingerprint == "" {
		fingerprint = r.Header.Get("X-Device-Fingerprint")
	}
	if fingerprint != "" {
		loginCtx.DeviceFingerprint = &fingerprint
	}

	// Lookup failures leave the geo fields empty, which the risk engine
	// treats as unknown rather than risky.
	if loc, err := h.geoLookup.Resolve(r.Context(), ip); err == nil {
		loginCtx.CountryCode = loc.CountryCode
		loginCtx.City = loc.City
		loginCtx.Proxy = loc.Proxy
		loginCtx.VPN = loc.VPN
	}

	return loginCtx
}

func writeLoginResult(w http.ResponseWriter, result *services.LoginResult) {
	resp := LoginResponse{
		Status:              result.Status,
		RiskScore:           result.RiskScore,
		RiskLevel:           string(result.RiskLevel),
		ChallengeToken:      result.ChallengeToken,
		VerificationMethods: result.VerificationMethods,
	}
	if result.User != nil {
		resp.Username = result.User.Username
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
