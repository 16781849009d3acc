package auth_test

import (
	"strings"
	"testing"
	"time"

	"github.com/calder-ross/bastion/internal/auth"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTOTPManager_GenerateSecret(t *testing.T) {
	tm := auth.NewTOTPManager("Bastion Test")

	secret, err := tm.GenerateSecret("alice@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, secret)
	assert.Equal(t, strings.ToUpper(secret), secret, "secret is base32, upper case")

	other, err := tm.GenerateSecret("alice@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, secret, other)
}

func TestTOTPManager_ProvisioningQR(t *testing.T) {
	tm := auth.NewTOTPManager("Bastion Test")

	secret, err := tm.GenerateSecret("alice@example.com")
	require.NoError(t, err)

	uri, qr, err := tm.ProvisioningQR("alice@example.com", secret)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(uri, "otpauth://totp/"), "uri: %s", uri)
	assert.Contains(t, uri, "secret="+secret)
	assert.Contains(t, uri, "issuer=Bastion")
	assert.True(t, strings.HasPrefix(qr, "data:image/png;base64,"))
}

func TestTOTPManager_VerifyCode(t *testing.T) {
	tm := auth.NewTOTPManager("Bastion Test")

	secret, err := tm.GenerateSecret("alice@example.com")
	require.NoError(t, err)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	assert.True(t, tm.VerifyCode(secret, code))
	assert.False(t, tm.VerifyCode(secret, "000000"))
	assert.False(t, tm.VerifyCode(secret, ""))
	assert.False(t, tm.VerifyCode("not-a-secret", code))
}

func TestTOTPManager_VerifyCode_AllowsClockDrift(t *testing.T) {
	tm := auth.NewTOTPManager("Bastion Test")

	secret, err := tm.GenerateSecret("alice@example.com")
	require.NoError(t, err)

	// One step behind is still inside the skew window; two steps is not.
	previous, err := totp.GenerateCode(secret, time.Now().Add(-30*time.Second))
	require.NoError(t, err)
	assert.True(t, tm.VerifyCode(secret, previous))

	stale, err := totp.GenerateCode(secret, time.Now().Add(-90*time.Second))
	require.NoError(t, err)
	assert.False(t, tm.VerifyCode(secret, stale))
}

func TestTOTPManager_GenerateBackupCodes(t *testing.T) {
	tm := auth.NewTOTPManager("Bastion Test")

	codes, err := tm.GenerateBackupCodes(10)
	require.NoError(t, err)
	require.Len(t, codes, 10)

	seen := make(map[string]bool)
	for _, code := range codes {
		assert.Len(t, code, 8)
		for _, r := range code {
			assert.True(t, r >= '0' && r <= '9', "code %q", code)
		}
		seen[code] = true
	}
	assert.Greater(t, len(seen), 1, "codes should not all collide")
}
