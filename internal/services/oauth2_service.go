package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/calder-ross/bastion/internal/models"
	pkgauth "github.com/calder-ross/bastion/pkg/auth"
	"github.com/google/uuid"
)

// OAuth2UserStore is the slice of user persistence the oauth2 flow needs
type OAuth2UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
}

// OAuth2LinkStore handles persistence of provider account links
type OAuth2LinkStore interface {
	GetByProviderIdentity(ctx context.Context, provider, providerUserID string) (*models.OAuth2UserLink, error)
	Create(ctx context.Context, link *models.OAuth2UserLink) (*models.OAuth2UserLink, error)
	Refresh(ctx context.Context, id string, profile models.OAuth2Profile) error
}

// profileExtractor maps a provider's raw attribute map to the fixed profile
// shape. New providers are added as new entries, not new types.
type profileExtractor func(attrs map[string]any) (models.OAuth2Profile, error)

var profileExtractors = map[string]profileExtractor{
	"google": func(attrs map[string]any) (models.OAuth2Profile, error) {
		return models.OAuth2Profile{
			ID:       stringAttr(attrs, "sub"),
			Name:     stringAttr(attrs, "name"),
			Email:    stringAttr(attrs, "email"),
			ImageURL: stringAttr(attrs, "picture"),
		}, nil
	},
	"github": func(attrs map[string]any) (models.OAuth2Profile, error) {
		id := stringAttr(attrs, "id")
		if id == "" {
			if n, ok := attrs["id"].(float64); ok {
				id = fmt.Sprintf("%.0f", n)
			}
		}
		name := stringAttr(attrs, "name")
		if name == "" {
			name = stringAttr(attrs, "login")
		}
		return models.OAuth2Profile{
			ID:       id,
			Name:     name,
			Email:    stringAttr(attrs, "email"),
			ImageURL: stringAttr(attrs, "avatar_url"),
		}, nil
	},
	"microsoft": func(attrs map[string]any) (models.OAuth2Profile, error) {
		email := stringAttr(attrs, "mail")
		if email == "" {
			email = stringAttr(attrs, "userPrincipalName")
		}
		return models.OAuth2Profile{
			ID:    stringAttr(attrs, "id"),
			Name:  stringAttr(attrs, "displayName"),
			Email: email,
		}, nil
	},
}

func stringAttr(attrs map[string]any, key string) string {
	if v, ok := attrs[key].(string); ok {
		return v
	}
	return ""
}

// OAuth2Service links externally authenticated identities to local accounts.
// The provider handshake itself happens upstream; this service receives the
// already-exchanged attribute map.
type OAuth2Service struct {
	users  OAuth2UserStore
	links  OAuth2LinkStore
	audit  *AuditService
	logger *slog.Logger
}

// NewOAuth2Service creates a new OAuth2Service
func NewOAuth2Service(users OAuth2UserStore, links OAuth2LinkStore, audit *AuditService, logger *slog.Logger) *OAuth2Service {
	return &OAuth2Service{
		users:  users,
		links:  links,
		audit:  audit,
		logger: logger,
	}
}

// ExtractProfile projects a provider attribute map onto the fixed profile
// shape. Unknown providers are rejected.
func (s *OAuth2Service) ExtractProfile(provider string, attrs map[string]any) (models.OAuth2Profile, error) {
	extractor, ok := profileExtractors[strings.ToLower(provider)]
	if !ok {
		return models.OAuth2Profile{}, fmt.Errorf("unsupported oauth2 provider %q", provider)
	}

	profile, err := extractor(attrs)
	if err != nil {
		return models.OAuth2Profile{}, err
	}
	if profile.ID == "" {
		return models.OAuth2Profile{}, models.ErrBadRequest
	}
	return profile, nil
}

// HandleProviderLogin resolves a provider identity to a local user, creating
// the account and link on first sight.
func (s *OAuth2Service) HandleProviderLogin(ctx context.Context, provider string, attrs map[string]any) (*models.User, error) {
	profile, err := s.ExtractProfile(provider, attrs)
	if err != nil {
		s.logger.Warn("oauth2 profile extraction failed",
			slog.String("provider", provider),
			slog.Any("error", err))
		return nil, models.ErrBadRequest
	}

	link, err := s.links.GetByProviderIdentity(ctx, provider, profile.ID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("oauth2 link lookup failed", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if link != nil {
		if err := s.links.Refresh(ctx, link.ID, profile); err != nil {
			s.logger.Error("failed to refresh oauth2 link", slog.Any("error", err))
		}

		user, err := s.users.GetByID(ctx, link.UserID)
		if err == nil {
			s.audit.LogEvent(ctx, models.AuditEventTypeOAuth2Login, user.Username, true, provider)
			return user, nil
		}
		s.logger.Error("oauth2 link points at missing user",
			slog.String("link_id", link.ID))
		return nil, models.ErrInternalServer
	}

	user, err := s.findOrCreateUser(ctx, provider, profile)
	if err != nil {
		return nil, err
	}

	var picture *string
	if profile.ImageURL != "" {
		picture = &profile.ImageURL
	}
	if _, err := s.links.Create(ctx, &models.OAuth2UserLink{
		UserID:          user.ID,
		Provider:        provider,
		ProviderUserID:  profile.ID,
		ProviderEmail:   profile.Email,
		ProviderName:    profile.Name,
		ProviderPicture: picture,
	}); err != nil {
		s.logger.Error("failed to create oauth2 link", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("oauth2 account linked",
		slog.String("provider", provider),
		slog.String("username", user.Username))
	s.audit.LogEvent(ctx, models.AuditEventTypeOAuth2Login, user.Username, true, provider)

	return user, nil
}

func (s *OAuth2Service) findOrCreateUser(ctx context.Context, provider string, profile models.OAuth2Profile) (*models.User, error) {
	if profile.Email != "" {
		existing, err := s.users.GetByEmail(ctx, profile.Email)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInternalServer
		}
	}

	username, err := s.uniqueUsername(ctx, provider, profile.ID)
	if err != nil {
		return nil, err
	}

	// OAuth-only accounts get an unguessable password they never use
	hash, err := pkgauth.HashPassword(uuid.NewString())
	if err != nil {
		return nil, models.ErrInternalServer
	}

	user, err := s.users.Create(ctx, &models.User{
		Username:      username,
		Email:         profile.Email,
		PasswordHash:  hash,
		FullName:      profile.Name,
		EmailVerified: true,
		Enabled:       true,
	})
	if err != nil {
		s.logger.Error("failed to create oauth2 user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return user, nil
}

func (s *OAuth2Service) uniqueUsername(ctx context.Context, provider, providerUserID string) (string, error) {
	base := fmt.Sprintf("%s_%s", provider, providerUserID)
	username := base
	for i := 1; ; i++ {
		taken, err := s.users.ExistsByUsername(ctx, username)
		if err != nil {
			return "", models.ErrInternalServer
		}
		if !taken {
			return username, nil
		}
		username = fmt.Sprintf("%s_%d", base, i)
	}
}
