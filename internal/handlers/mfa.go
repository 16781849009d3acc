package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/calder-ross/bastion/internal/models"
	"github.com/calder-ross/bastion/internal/services"
	pkghttp "github.com/calder-ross/bastion/pkg/http"
	"github.com/go-chi/chi/v5"
)

// MFAServiceInterface defines the interface for authenticator enrollment
type MFAServiceInterface interface {
	InitiateSetup(ctx context.Context, username string) (*services.MFASetup, error)
	ConfirmSetup(ctx context.Context, username, code string) ([]string, error)
	RegenerateBackupCodes(ctx context.Context, username string) ([]string, error)
	DisableMFA(ctx context.Context, username string) error
}

// DeviceServiceInterface defines the interface for trusted device management
type DeviceServiceInterface interface {
	ListTrustedDevices(ctx context.Context, username string) ([]*models.TrustedDevice, error)
	RemoveTrustedDevice(ctx context.Context, username, deviceID string) error
}

// MFAHandler handles MFA enrollment and trusted device requests
type MFAHandler struct {
	mfa     MFAServiceInterface
	devices DeviceServiceInterface
}

// NewMFAHandler creates a new MFAHandler
func NewMFAHandler(mfa MFAServiceInterface, devices DeviceServiceInterface) *MFAHandler {
	return &MFAHandler{
		mfa:     mfa,
		devices: devices,
	}
}

// ConfirmSetupRequest represents the request body for confirming enrollment
type ConfirmSetupRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// MFASetupResponse represents the provisioning data for a pending enrollment
type MFASetupResponse struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
	QRCodeDataURL   string `json:"qr_code"`
}

// BackupCodesResponse carries freshly generated backup codes. They are shown
// exactly once; only hashes are stored.
type BackupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

// TrustedDeviceResponse represents a trusted device entry
type TrustedDeviceResponse struct {
	ID             string    `json:"id"`
	DeviceName     string    `json:"device_name"`
	LastUsedAt     time.Time `json:"last_used_at"`
	TrustExpiresAt time.Time `json:"trust_expires_at"`
}

// InitiateSetup begins authenticator enrollment for the user
func (h *MFAHandler) InitiateSetup(w http.ResponseWriter, r *http.Request) {
	username := usernameFromPath(r)
	if username == "" {
		pkghttp.WriteBadRequest(w, "Missing username")
		return
	}

	setup, err := h.mfa.InitiateSetup(r.Context(), username)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(MFASetupResponse{
		Secret:          setup.Secret,
		ProvisioningURI: setup.ProvisioningURI,
		QRCodeDataURL:   setup.QRCodeDataURL,
	})
}

// ConfirmSetup completes enrollment by verifying the first authenticator code
func (h *MFAHandler) ConfirmSetup(w http.ResponseWriter, r *http.Request) {
	username := usernameFromPath(r)
	if username == "" {
		pkghttp.WriteBadRequest(w, "Missing username")
		return
	}

	var req ConfirmSetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	codes, err := h.mfa.ConfirmSetup(r.Context(), username, req.Code)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(BackupCodesResponse{BackupCodes: codes})
}

// RegenerateBackupCodes replaces the user's backup code set
func (h *MFAHandler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	username := usernameFromPath(r)
	if username == "" {
		pkghttp.WriteBadRequest(w, "Missing username")
		return
	}

	codes, err := h.mfa.RegenerateBackupCodes(r.Context(), username)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(BackupCodesResponse{BackupCodes: codes})
}

// DisableMFA turns off authenticator verification for the user
func (h *MFAHandler) DisableMFA(w http.ResponseWriter, r *http.Request) {
	username := usernameFromPath(r)
	if username == "" {
		pkghttp.WriteBadRequest(w, "Missing username")
		return
	}

	if err := h.mfa.DisableMFA(r.Context(), username); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListDevices returns the user's active trusted devices
func (h *MFAHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	username := usernameFromPath(r)
	if username == "" {
		pkghttp.WriteBadRequest(w, "Missing username")
		return
	}

	devices, err := h.devices.ListTrustedDevices(r.Context(), username)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	resp := make([]TrustedDeviceResponse, 0, len(devices))
	for _, d := range devices {
		resp = append(resp, TrustedDeviceResponse{
			ID:             d.ID,
			DeviceName:     d.DeviceName,
			LastUsedAt:     d.LastUsedAt,
			TrustExpiresAt: d.TrustExpiresAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

// RemoveDevice revokes trust for one of the user's devices
func (h *MFAHandler) RemoveDevice(w http.ResponseWriter, r *http.Request) {
	username := usernameFromPath(r)
	if username == "" {
		pkghttp.WriteBadRequest(w, "Missing username")
		return
	}
	deviceID := chi.URLParam(r, "deviceID")
	if deviceID == "" {
		pkghttp.WriteBadRequest(w, "Missing device id")
		return
	}

	if err := h.devices.RemoveTrustedDevice(r.Context(), username, deviceID); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// usernameFromPath pulls the username path parameter
func usernameFromPath(r *http.Request) string {
	return chi.URLParam(r, "username")
}
