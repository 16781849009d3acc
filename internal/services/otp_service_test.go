package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/calder-ross/bastion/internal/config"
	"github.com/calder-ross/bastion/internal/models"
	"github.com/calder-ross/bastion/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockOtpStore mirrors the repository semantics: issuing invalidates prior
// unused codes for the pair, and MarkUsed only succeeds once.
type MockOtpStore struct {
	rows   []*models.OneTimePassword
	nextID int
}

func (m *MockOtpStore) InvalidateAndCreate(ctx context.Context, otp *models.OneTimePassword) error {
	for _, row := range m.rows {
		if row.UserID == otp.UserID && row.Purpose == otp.Purpose && !row.Used {
			row.Used = true
		}
	}
	m.nextID++
	otp.ID = string(rune('a' + m.nextID))
	m.rows = append(m.rows, otp)
	return nil
}

func (m *MockOtpStore) FindValidByCode(ctx context.Context, userID, code string, purpose models.OtpPurpose, now time.Time) (*models.OneTimePassword, error) {
	for _, row := range m.rows {
		if row.UserID == userID && row.Code == code && row.Purpose == purpose && row.IsValid(now) {
			return row, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MockOtpStore) MarkUsed(ctx context.Context, id string) error {
	for _, row := range m.rows {
		if row.ID == id {
			if row.Used {
				return models.ErrNotFound
			}
			row.Used = true
			return nil
		}
	}
	return models.ErrNotFound
}

// MockEmailSender records sent codes
type MockEmailSender struct {
	otpCodes   []string
	resetCodes []string
	failSend   bool
}

func (m *MockEmailSender) SendOtpEmail(ctx context.Context, to, username, code string, validMinutes int) error {
	if m.failSend {
		return assert.AnError
	}
	m.otpCodes = append(m.otpCodes, code)
	return nil
}

func (m *MockEmailSender) SendPasswordResetEmail(ctx context.Context, to, username, code string, validMinutes int) error {
	if m.failSend {
		return assert.AnError
	}
	m.resetCodes = append(m.resetCodes, code)
	return nil
}

func otpConfig() config.OtpConfig {
	return config.OtpConfig{
		Length:          6,
		Expiry:          5 * time.Minute,
		BackupCodeCount: 10,
	}
}

func otpTestUser() *models.User {
	return &models.User{ID: "u1", Username: "alice", Email: "alice@example.com"}
}

func TestGenerateAndSendOtp_IssuesSixDigitCode(t *testing.T) {
	store := &MockOtpStore{}
	email := &MockEmailSender{}
	svc := services.NewOtpService(store, email, otpConfig(), testLogger())

	code, err := svc.GenerateAndSendOtp(context.Background(), otpTestUser(), models.OtpPurposeLogin)

	require.NoError(t, err)
	assert.Len(t, code, 6)
	for _, c := range code {
		assert.True(t, c >= '0' && c <= '9', "code %q contains non-digit", code)
	}
	require.Len(t, email.otpCodes, 1)
	assert.Equal(t, code, email.otpCodes[0])
}

func TestGenerateAndSendOtp_SecondIssueInvalidatesFirst(t *testing.T) {
	store := &MockOtpStore{}
	email := &MockEmailSender{}
	svc := services.NewOtpService(store, email, otpConfig(), testLogger())
	user := otpTestUser()
	ctx := context.Background()

	first, err := svc.GenerateAndSendOtp(ctx, user, models.OtpPurposeLogin)
	require.NoError(t, err)

	second, err := svc.GenerateAndSendOtp(ctx, user, models.OtpPurposeLogin)
	require.NoError(t, err)

	ok, err := svc.VerifyOtp(ctx, user, first, models.OtpPurposeLogin)
	require.NoError(t, err)
	assert.False(t, ok, "first code must be dead after the second is issued")

	ok, err = svc.VerifyOtp(ctx, user, second, models.OtpPurposeLogin)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyOtp_CodeIsSingleUse(t *testing.T) {
	store := &MockOtpStore{}
	email := &MockEmailSender{}
	svc := services.NewOtpService(store, email, otpConfig(), testLogger())
	user := otpTestUser()
	ctx := context.Background()

	code, err := svc.GenerateAndSendOtp(ctx, user, models.OtpPurposeLogin)
	require.NoError(t, err)

	ok, err := svc.VerifyOtp(ctx, user, code, models.OtpPurposeLogin)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.VerifyOtp(ctx, user, code, models.OtpPurposeLogin)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyOtp_ExpiredCodeFails(t *testing.T) {
	clock := newManualClock()
	store := &MockOtpStore{}
	email := &MockEmailSender{}
	svc := services.NewOtpServiceWithClock(store, email, otpConfig(), testLogger(), clock.Now)
	user := otpTestUser()
	ctx := context.Background()

	code, err := svc.GenerateAndSendOtp(ctx, user, models.OtpPurposeLogin)
	require.NoError(t, err)

	clock.Advance(5*time.Minute + time.Second)

	ok, err := svc.VerifyOtp(ctx, user, code, models.OtpPurposeLogin)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyOtp_PurposesAreIsolated(t *testing.T) {
	store := &MockOtpStore{}
	email := &MockEmailSender{}
	svc := services.NewOtpService(store, email, otpConfig(), testLogger())
	user := otpTestUser()
	ctx := context.Background()

	code, err := svc.GenerateAndSendOtp(ctx, user, models.OtpPurposeLogin)
	require.NoError(t, err)

	ok, err := svc.VerifyOtp(ctx, user, code, models.OtpPurposePasswordReset)
	require.NoError(t, err)
	assert.False(t, ok, "a login code must not pass password reset verification")
}

func TestVerifyOtp_EmptyCodeFails(t *testing.T) {
	svc := services.NewOtpService(&MockOtpStore{}, &MockEmailSender{}, otpConfig(), testLogger())

	ok, err := svc.VerifyOtp(context.Background(), otpTestUser(), "", models.OtpPurposeLogin)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGenerateAndSendOtp_SendFailureSurfacesError(t *testing.T) {
	store := &MockOtpStore{}
	email := &MockEmailSender{failSend: true}
	svc := services.NewOtpService(store, email, otpConfig(), testLogger())

	_, err := svc.GenerateAndSendOtp(context.Background(), otpTestUser(), models.OtpPurposeLogin)
	assert.ErrorIs(t, err, models.ErrInternalServer)
}
