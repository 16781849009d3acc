package repositories

import (
	"context"
	"fmt"

	"github.com/calder-ross/bastion/internal/database"
	"github.com/calder-ross/bastion/internal/models"
	"github.com/google/uuid"
)

// OAuth2LinkRepository handles database operations for provider account links
type OAuth2LinkRepository struct {
	db *database.DB
}

// NewOAuth2LinkRepository creates a new OAuth2LinkRepository
func NewOAuth2LinkRepository(db *database.DB) *OAuth2LinkRepository {
	return &OAuth2LinkRepository{db: db}
}

const oauth2LinkColumns = `
	id, user_id, provider, provider_user_id, provider_email, provider_name,
	provider_picture, linked_at, last_used_at, active
`

func scanOAuth2LinkRow(scanner rowScanner) (*models.OAuth2UserLink, error) {
	l := &models.OAuth2UserLink{}
	err := scanner.Scan(
		&l.ID,
		&l.UserID,
		&l.Provider,
		&l.ProviderUserID,
		&l.ProviderEmail,
		&l.ProviderName,
		&l.ProviderPicture,
		&l.LinkedAt,
		&l.LastUsedAt,
		&l.Active,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return l, nil
}

// GetByProviderIdentity finds an active link for a provider user ID
func (r *OAuth2LinkRepository) GetByProviderIdentity(ctx context.Context, provider, providerUserID string) (*models.OAuth2UserLink, error) {
	query := `
		SELECT ` + oauth2LinkColumns + `
		FROM oauth2_user_links
		WHERE provider = $1 AND provider_user_id = $2 AND active = true
	`
	return scanOAuth2LinkRow(r.db.Pool.QueryRow(ctx, query, provider, providerUserID))
}

// Create inserts a new provider link
func (r *OAuth2LinkRepository) Create(ctx context.Context, link *models.OAuth2UserLink) (*models.OAuth2UserLink, error) {
	query := `
		INSERT INTO oauth2_user_links (
			id, user_id, provider, provider_user_id, provider_email,
			provider_name, provider_picture, active
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, true)
		RETURNING ` + oauth2LinkColumns

	created, err := scanOAuth2LinkRow(r.db.Pool.QueryRow(ctx, query,
		uuid.NewString(),
		link.UserID,
		link.Provider,
		link.ProviderUserID,
		link.ProviderEmail,
		link.ProviderName,
		link.ProviderPicture,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth2 link: %w", err)
	}

	return created, nil
}

// Refresh updates the provider profile snapshot and last-used timestamp
func (r *OAuth2LinkRepository) Refresh(ctx context.Context, id string, profile models.OAuth2Profile) error {
	query := `
		UPDATE oauth2_user_links SET
			provider_email = $2,
			provider_name = $3,
			provider_picture = $4,
			last_used_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	var picture *string
	if profile.ImageURL != "" {
		picture = &profile.ImageURL
	}

	tag, err := r.db.Pool.Exec(ctx, query, id, profile.Email, profile.Name, picture)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
