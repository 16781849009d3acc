package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

// TOTPManager handles TOTP secret generation, provisioning, and validation
type TOTPManager struct {
	issuer string
}

// NewTOTPManager creates a new TOTP manager
func NewTOTPManager(issuer string) *TOTPManager {
	return &TOTPManager{issuer: issuer}
}

// GenerateSecret creates a new base32-encoded TOTP secret
func (tm *TOTPManager) GenerateSecret(accountName string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: accountName,
		SecretSize:  32,
		Period:      30,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate TOTP secret: %w", err)
	}

	return key.Secret(), nil
}

// ProvisioningQR returns the otpauth provisioning URI for a secret together
// with a PNG QR code rendered as a data URL, for display at enable-time.
func (tm *TOTPManager) ProvisioningQR(accountName, secret string) (string, string, error) {
	key, err := otp.NewKeyFromURL(fmt.Sprintf(
		"otpauth://totp/%s:%s?secret=%s&issuer=%s&algorithm=SHA1&digits=6&period=30",
		tm.issuer, accountName, secret, tm.issuer,
	))
	if err != nil {
		return "", "", fmt.Errorf("failed to build provisioning URI: %w", err)
	}

	uri := key.URL()
	qr, err := qrcode.New(uri, qrcode.Highest)
	if err != nil {
		return "", "", fmt.Errorf("failed to create QR code: %w", err)
	}

	qrImage, err := qr.PNG(200)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode QR code: %w", err)
	}

	qrDataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrImage)

	return uri, qrDataURL, nil
}

// VerifyCode validates a 6-digit TOTP code against a base32 secret.
// Allows ±1 time step for clock drift.
func (tm *TOTPManager) VerifyCode(secret, code string) bool {
	valid, err := totp.ValidateCustom(code, secret, time.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false
	}
	return valid
}

// GenerateBackupCodes generates count random 8-digit numeric backup codes
// from a cryptographically secure source.
func (tm *TOTPManager) GenerateBackupCodes(count int) ([]string, error) {
	max := big.NewInt(100000000)

	codes := make([]string, count)
	for i := 0; i < count; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		codes[i] = fmt.Sprintf("%08d", n.Int64())
	}

	return codes, nil
}
