package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/calder-ross/bastion/internal/models"
	"github.com/calder-ross/bastion/internal/services"
	pkgauth "github.com/calder-ross/bastion/pkg/auth"
	pkglogger "github.com/calder-ross/bastion/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockUserStore is an in-memory UserStore keyed by username
type MockUserStore struct {
	users   map[string]*models.User
	updates int
}

func NewMockUserStore() *MockUserStore {
	return &MockUserStore{users: make(map[string]*models.User)}
}

func (m *MockUserStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	if user, ok := m.users[username]; ok {
		return user, nil
	}
	return nil, models.ErrNotFound
}

func (m *MockUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, user := range m.users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MockUserStore) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	_, ok := m.users[username]
	return ok, nil
}

func (m *MockUserStore) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if _, ok := m.users[user.Username]; ok {
		return nil, models.ErrConflict
	}
	user.ID = uuid.NewString()
	user.CreatedAt = time.Now()
	m.users[user.Username] = user
	return user, nil
}

func (m *MockUserStore) Update(ctx context.Context, user *models.User) error {
	if _, ok := m.users[user.Username]; !ok {
		return models.ErrNotFound
	}
	m.updates++
	m.users[user.Username] = user
	return nil
}

// MockPasswordHistoryStore keeps hashes newest-first per user
type MockPasswordHistoryStore struct {
	hashes map[string][]string
}

func NewMockPasswordHistoryStore() *MockPasswordHistoryStore {
	return &MockPasswordHistoryStore{hashes: make(map[string][]string)}
}

func (m *MockPasswordHistoryStore) ListRecentHashes(ctx context.Context, userID string, limit int) ([]string, error) {
	entries := m.hashes[userID]
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (m *MockPasswordHistoryStore) Add(ctx context.Context, userID, passwordHash string, keep int) error {
	entries := append([]string{passwordHash}, m.hashes[userID]...)
	if len(entries) > keep {
		entries = entries[:keep]
	}
	m.hashes[userID] = entries
	return nil
}

type userFixture struct {
	store   *MockUserStore
	history *MockPasswordHistoryStore
	otp     *StubOtpVerifier
	audit   *MockAuditStore
	svc     *services.UserService
}

func newUserFixture() *userFixture {
	logger := testLogger()
	f := &userFixture{
		store:   NewMockUserStore(),
		history: NewMockPasswordHistoryStore(),
		otp:     &StubOtpVerifier{validCode: "424242"},
		audit:   &MockAuditStore{},
	}
	audit := services.NewAuditService(f.audit, pkglogger.NewAuditLogger(logger), logger)
	f.svc = services.NewUserService(f.store, f.history, f.otp, audit, logger)
	return f
}

func userServiceUnderTest() (*services.UserService, *MockUserStore) {
	f := newUserFixture()
	return f.svc, f.store
}

func TestRegister_CreatesEnabledUser(t *testing.T) {
	svc, store := userServiceUnderTest()

	user, err := svc.Register(context.Background(), "alice", "Alice@Example.COM", "Str0ng!Passphrase", "Alice Liddell")
	require.NoError(t, err)

	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "alice@example.com", user.Email, "email is normalised to lower case")
	assert.True(t, user.Enabled)
	assert.NotEqual(t, "Str0ng!Passphrase", user.PasswordHash)
	assert.NoError(t, pkgauth.ComparePassword(user.PasswordHash, "Str0ng!Passphrase"))

	_, ok := store.users["alice"]
	assert.True(t, ok)
}

func TestRegister_DuplicateUsernameConflicts(t *testing.T) {
	svc, _ := userServiceUnderTest()
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "alice@example.com", "Str0ng!Passphrase", "")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "alice", "other@example.com", "Str0ng!Passphrase", "")
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestRegister_WeakPasswordRejected(t *testing.T) {
	svc, store := userServiceUnderTest()

	_, err := svc.Register(context.Background(), "alice", "alice@example.com", "weak", "")

	var pve *pkgauth.PasswordValidationError
	require.ErrorAs(t, err, &pve)
	assert.Empty(t, store.users, "no account is created on policy failure")
}

func TestRegister_BlankIdentifiersRejected(t *testing.T) {
	svc, _ := userServiceUnderTest()
	ctx := context.Background()

	_, err := svc.Register(ctx, "   ", "alice@example.com", "Str0ng!Passphrase", "")
	assert.ErrorIs(t, err, models.ErrBadRequest)

	_, err = svc.Register(ctx, "alice", "  ", "Str0ng!Passphrase", "")
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestHandleLoginFailure_LocksAtThreshold(t *testing.T) {
	svc, _ := userServiceUnderTest()
	ctx := context.Background()

	user := registeredUser(t, svc, "alice")

	for i := 0; i < 4; i++ {
		locked, err := svc.HandleLoginFailure(ctx, user)
		require.NoError(t, err)
		assert.False(t, locked, "attempt %d must not lock", i+1)
	}

	locked, err := svc.HandleLoginFailure(ctx, user)
	require.NoError(t, err)
	assert.True(t, locked, "fifth consecutive failure locks the account")
	assert.True(t, user.AccountLocked)
	require.NotNil(t, user.LockedAt)
}

func TestCheckLockout_AutoUnlocksAfterWindow(t *testing.T) {
	svc, _ := userServiceUnderTest()
	ctx := context.Background()

	user := registeredUser(t, svc, "alice")
	past := time.Now().Add(-31 * time.Minute)
	user.AccountLocked = true
	user.LockedAt = &past
	user.FailedLoginAttempts = 5

	locked, err := svc.CheckLockout(ctx, user)
	require.NoError(t, err)
	assert.False(t, locked)
	assert.False(t, user.AccountLocked)
	assert.Nil(t, user.LockedAt)
	assert.Equal(t, 0, user.FailedLoginAttempts)
}

func TestCheckLockout_StillLockedInsideWindow(t *testing.T) {
	svc, _ := userServiceUnderTest()
	ctx := context.Background()

	user := registeredUser(t, svc, "alice")
	recent := time.Now().Add(-5 * time.Minute)
	user.AccountLocked = true
	user.LockedAt = &recent

	locked, err := svc.CheckLockout(ctx, user)
	require.NoError(t, err)
	assert.True(t, locked)
	assert.True(t, user.AccountLocked)
}

func TestHandleLoginSuccess_ResetsCounter(t *testing.T) {
	svc, _ := userServiceUnderTest()
	ctx := context.Background()

	user := registeredUser(t, svc, "alice")
	user.FailedLoginAttempts = 3

	require.NoError(t, svc.HandleLoginSuccess(ctx, user))
	assert.Equal(t, 0, user.FailedLoginAttempts)
	require.NotNil(t, user.LastLoginAt)
	assert.WithinDuration(t, time.Now(), *user.LastLoginAt, time.Minute)
}

func TestChangePassword(t *testing.T) {
	svc, _ := userServiceUnderTest()
	ctx := context.Background()

	user := registeredUser(t, svc, "alice")
	oldHash := user.PasswordHash

	t.Run("wrong current password", func(t *testing.T) {
		err := svc.ChangePassword(ctx, "alice", "not-it", "N3w!Passphrase")
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("weak new password", func(t *testing.T) {
		err := svc.ChangePassword(ctx, "alice", "Str0ng!Passphrase", "weak")
		var pve *pkgauth.PasswordValidationError
		assert.ErrorAs(t, err, &pve)
	})

	t.Run("success", func(t *testing.T) {
		err := svc.ChangePassword(ctx, "alice", "Str0ng!Passphrase", "N3w!Passphrase")
		require.NoError(t, err)
		assert.NotEqual(t, oldHash, user.PasswordHash)
		assert.NoError(t, pkgauth.ComparePassword(user.PasswordHash, "N3w!Passphrase"))
		require.NotNil(t, user.PasswordChangedAt)
	})

	t.Run("unknown user", func(t *testing.T) {
		err := svc.ChangePassword(ctx, "nobody", "x", "N3w!Passphrase")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func registeredUser(t *testing.T, svc *services.UserService, username string) *models.User {
	t.Helper()
	user, err := svc.Register(context.Background(), username, username+"@example.com", "Str0ng!Passphrase", "")
	require.NoError(t, err)
	return user
}

func TestRegister_RecordsHistoryAndSendsVerificationCode(t *testing.T) {
	f := newUserFixture()

	user, err := f.svc.Register(context.Background(), "alice", "alice@example.com", "Str0ng!Passphrase", "")
	require.NoError(t, err)

	require.Len(t, f.history.hashes[user.ID], 1)
	assert.NoError(t, pkgauth.ComparePassword(f.history.hashes[user.ID][0], "Str0ng!Passphrase"))

	assert.Equal(t, []models.OtpPurpose{models.OtpPurposeEmailVerification}, f.otp.purposes)
}

func TestChangePassword_RejectsRecentlyUsedPassword(t *testing.T) {
	f := newUserFixture()
	ctx := context.Background()

	registeredUser(t, f.svc, "alice")

	require.NoError(t, f.svc.ChangePassword(ctx, "alice", "Str0ng!Passphrase", "N3w!Passphrase"))

	// Rotating back to the original password hits the retained history
	err := f.svc.ChangePassword(ctx, "alice", "N3w!Passphrase", "Str0ng!Passphrase")
	var pve *pkgauth.PasswordValidationError
	require.ErrorAs(t, err, &pve)
	assert.Equal(t, "invalid password", pve.Error(), "reuse rejection stays generic outward")
}

func TestChangePassword_AppendsHistory(t *testing.T) {
	f := newUserFixture()
	ctx := context.Background()

	user := registeredUser(t, f.svc, "alice")
	require.NoError(t, f.svc.ChangePassword(ctx, "alice", "Str0ng!Passphrase", "N3w!Passphrase"))

	assert.Len(t, f.history.hashes[user.ID], 2)
}

func TestRequestPasswordReset(t *testing.T) {
	f := newUserFixture()
	ctx := context.Background()

	registeredUser(t, f.svc, "alice")
	f.otp.purposes = nil

	t.Run("known email sends a reset code", func(t *testing.T) {
		require.NoError(t, f.svc.RequestPasswordReset(ctx, "Alice@Example.com"))
		assert.Equal(t, []models.OtpPurpose{models.OtpPurposePasswordReset}, f.otp.purposes)
	})

	t.Run("unknown email is silent", func(t *testing.T) {
		issued := len(f.otp.purposes)
		require.NoError(t, f.svc.RequestPasswordReset(ctx, "nobody@example.com"))
		assert.Len(t, f.otp.purposes, issued, "no code for unregistered addresses")
	})
}

func TestResetPassword_ReplacesPasswordAndClearsLockout(t *testing.T) {
	f := newUserFixture()
	ctx := context.Background()

	user := registeredUser(t, f.svc, "alice")
	now := time.Now()
	user.AccountLocked = true
	user.LockedAt = &now
	user.FailedLoginAttempts = 5

	err := f.svc.ResetPassword(ctx, "alice@example.com", "424242", "N3w!Passphrase")
	require.NoError(t, err)

	assert.NoError(t, pkgauth.ComparePassword(user.PasswordHash, "N3w!Passphrase"))
	assert.False(t, user.AccountLocked)
	assert.Nil(t, user.LockedAt)
	assert.Equal(t, 0, user.FailedLoginAttempts)
	assert.Len(t, f.history.hashes[user.ID], 2)
}

func TestResetPassword_WrongCodeFails(t *testing.T) {
	f := newUserFixture()
	ctx := context.Background()

	user := registeredUser(t, f.svc, "alice")
	oldHash := user.PasswordHash

	err := f.svc.ResetPassword(ctx, "alice@example.com", "000000", "N3w!Passphrase")
	assert.ErrorIs(t, err, models.ErrVerificationFailed)
	assert.Equal(t, oldHash, user.PasswordHash)
}

func TestResetPassword_RejectsReusedPassword(t *testing.T) {
	f := newUserFixture()
	ctx := context.Background()

	registeredUser(t, f.svc, "alice")

	err := f.svc.ResetPassword(ctx, "alice@example.com", "424242", "Str0ng!Passphrase")
	var pve *pkgauth.PasswordValidationError
	assert.ErrorAs(t, err, &pve)
}

func TestVerifyEmail(t *testing.T) {
	f := newUserFixture()
	ctx := context.Background()

	user := registeredUser(t, f.svc, "alice")
	require.False(t, user.EmailVerified)

	t.Run("wrong code fails", func(t *testing.T) {
		err := f.svc.VerifyEmail(ctx, "alice@example.com", "000000")
		assert.ErrorIs(t, err, models.ErrVerificationFailed)
		assert.False(t, user.EmailVerified)
	})

	t.Run("valid code marks the address verified", func(t *testing.T) {
		require.NoError(t, f.svc.VerifyEmail(ctx, "alice@example.com", "424242"))
		assert.True(t, user.EmailVerified)
	})

	t.Run("re-requesting for a verified address is a no-op", func(t *testing.T) {
		issued := len(f.otp.purposes)
		require.NoError(t, f.svc.RequestEmailVerification(ctx, "alice@example.com"))
		assert.Len(t, f.otp.purposes, issued)
	})
}
