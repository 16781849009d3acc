package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/calder-ross/bastion/internal/models"
	"github.com/calder-ross/bastion/internal/services"
	pkglogger "github.com/calder-ross/bastion/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockOAuth2UserStore backs the oauth2 flow with the package's user map
type MockOAuth2UserStore struct {
	inner *MockUserStore
}

func (m *MockOAuth2UserStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	for _, user := range m.inner.users {
		if user.ID == id {
			return user, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MockOAuth2UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return m.inner.GetByEmail(ctx, email)
}

func (m *MockOAuth2UserStore) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return m.inner.ExistsByUsername(ctx, username)
}

func (m *MockOAuth2UserStore) Create(ctx context.Context, user *models.User) (*models.User, error) {
	return m.inner.Create(ctx, user)
}

// MockOAuth2LinkStore is an in-memory OAuth2LinkStore
type MockOAuth2LinkStore struct {
	links     map[string]*models.OAuth2UserLink // keyed by provider+providerUserID
	refreshes int
}

func NewMockOAuth2LinkStore() *MockOAuth2LinkStore {
	return &MockOAuth2LinkStore{links: make(map[string]*models.OAuth2UserLink)}
}

func (m *MockOAuth2LinkStore) GetByProviderIdentity(ctx context.Context, provider, providerUserID string) (*models.OAuth2UserLink, error) {
	if link, ok := m.links[provider+"|"+providerUserID]; ok {
		return link, nil
	}
	return nil, models.ErrNotFound
}

func (m *MockOAuth2LinkStore) Create(ctx context.Context, link *models.OAuth2UserLink) (*models.OAuth2UserLink, error) {
	link.ID = uuid.NewString()
	link.LinkedAt = time.Now()
	link.Active = true
	m.links[link.Provider+"|"+link.ProviderUserID] = link
	return link, nil
}

func (m *MockOAuth2LinkStore) Refresh(ctx context.Context, id string, profile models.OAuth2Profile) error {
	m.refreshes++
	for _, link := range m.links {
		if link.ID == id {
			link.ProviderEmail = profile.Email
			link.ProviderName = profile.Name
			link.LastUsedAt = time.Now()
			return nil
		}
	}
	return models.ErrNotFound
}

func oauth2ServiceUnderTest() (*services.OAuth2Service, *MockUserStore, *MockOAuth2LinkStore) {
	logger := testLogger()
	users := NewMockUserStore()
	links := NewMockOAuth2LinkStore()
	audit := services.NewAuditService(&MockAuditStore{}, pkglogger.NewAuditLogger(logger), logger)
	svc := services.NewOAuth2Service(&MockOAuth2UserStore{inner: users}, links, audit, logger)
	return svc, users, links
}

func googleAttrs() map[string]any {
	return map[string]any{
		"sub":     "10987654321",
		"name":    "Alice Liddell",
		"email":   "alice@example.com",
		"picture": "https://example.com/alice.png",
	}
}

func TestExtractProfile_PerProvider(t *testing.T) {
	svc, _, _ := oauth2ServiceUnderTest()

	t.Run("google", func(t *testing.T) {
		profile, err := svc.ExtractProfile("google", googleAttrs())
		require.NoError(t, err)
		assert.Equal(t, "10987654321", profile.ID)
		assert.Equal(t, "Alice Liddell", profile.Name)
		assert.Equal(t, "alice@example.com", profile.Email)
		assert.Equal(t, "https://example.com/alice.png", profile.ImageURL)
	})

	t.Run("github numeric id and login fallback", func(t *testing.T) {
		profile, err := svc.ExtractProfile("github", map[string]any{
			"id":         float64(583231), // JSON numbers decode as float64
			"login":      "aliddell",
			"email":      "alice@example.com",
			"avatar_url": "https://avatars.example.com/583231",
		})
		require.NoError(t, err)
		assert.Equal(t, "583231", profile.ID)
		assert.Equal(t, "aliddell", profile.Name, "login used when name is absent")
	})

	t.Run("microsoft userPrincipalName fallback", func(t *testing.T) {
		profile, err := svc.ExtractProfile("microsoft", map[string]any{
			"id":                "ms-123",
			"displayName":       "Alice Liddell",
			"userPrincipalName": "alice@contoso.com",
		})
		require.NoError(t, err)
		assert.Equal(t, "ms-123", profile.ID)
		assert.Equal(t, "alice@contoso.com", profile.Email)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := svc.ExtractProfile("myspace", map[string]any{"id": "1"})
		assert.Error(t, err)
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := svc.ExtractProfile("google", map[string]any{"email": "x@y.z"})
		assert.ErrorIs(t, err, models.ErrBadRequest)
	})
}

func TestHandleProviderLogin_FirstSightCreatesUserAndLink(t *testing.T) {
	svc, users, links := oauth2ServiceUnderTest()

	user, err := svc.HandleProviderLogin(context.Background(), "google", googleAttrs())
	require.NoError(t, err)

	assert.Equal(t, "google_10987654321", user.Username)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.True(t, user.Enabled)
	assert.True(t, user.EmailVerified)
	assert.NotEmpty(t, user.PasswordHash, "oauth-only accounts still carry an unguessable hash")

	link, err := links.GetByProviderIdentity(context.Background(), "google", "10987654321")
	require.NoError(t, err)
	assert.Equal(t, user.ID, link.UserID)
	assert.Len(t, users.users, 1)
}

func TestHandleProviderLogin_ReturnVisitRefreshesLink(t *testing.T) {
	svc, users, links := oauth2ServiceUnderTest()
	ctx := context.Background()

	first, err := svc.HandleProviderLogin(ctx, "google", googleAttrs())
	require.NoError(t, err)

	attrs := googleAttrs()
	attrs["name"] = "Alice L."
	second, err := svc.HandleProviderLogin(ctx, "google", attrs)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, users.users, 1, "no duplicate account on return visit")
	assert.Equal(t, 1, links.refreshes)

	link, err := links.GetByProviderIdentity(ctx, "google", "10987654321")
	require.NoError(t, err)
	assert.Equal(t, "Alice L.", link.ProviderName)
}

func TestHandleProviderLogin_MatchesExistingAccountByEmail(t *testing.T) {
	svc, users, _ := oauth2ServiceUnderTest()
	ctx := context.Background()

	existing, err := users.Create(ctx, &models.User{
		Username: "alice",
		Email:    "alice@example.com",
		Enabled:  true,
	})
	require.NoError(t, err)

	user, err := svc.HandleProviderLogin(ctx, "google", googleAttrs())
	require.NoError(t, err)

	assert.Equal(t, existing.ID, user.ID)
	assert.Equal(t, "alice", user.Username)
	assert.Len(t, users.users, 1)
}

func TestHandleProviderLogin_UsernameCollisionGetsSuffix(t *testing.T) {
	svc, users, _ := oauth2ServiceUnderTest()
	ctx := context.Background()

	_, err := users.Create(ctx, &models.User{
		Username: "google_10987654321",
		Email:    "squatter@example.com",
		Enabled:  true,
	})
	require.NoError(t, err)

	attrs := googleAttrs()
	attrs["email"] = "other@example.com"
	user, err := svc.HandleProviderLogin(ctx, "google", attrs)
	require.NoError(t, err)

	assert.Equal(t, "google_10987654321_1", user.Username)
}

func TestHandleProviderLogin_BadAttributesRejected(t *testing.T) {
	svc, users, _ := oauth2ServiceUnderTest()

	_, err := svc.HandleProviderLogin(context.Background(), "google", map[string]any{})
	assert.ErrorIs(t, err, models.ErrBadRequest)
	assert.Empty(t, users.users)
}
