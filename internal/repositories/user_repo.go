package repositories

import (
	"context"
	"fmt"

	"github.com/calder-ross/bastion/internal/database"
	"github.com/calder-ross/bastion/internal/models"
	"github.com/google/uuid"
)

// UserRepository handles database operations for user accounts
type UserRepository struct {
	db *database.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `
	id, username, email, password_hash, full_name, email_verified, enabled,
	mfa_enabled, mfa_secret, mfa_enrolled_at,
	failed_login_attempts, last_failed_login_at, account_locked, locked_at,
	last_login_at, password_changed_at, created_at, updated_at
`

func scanUserRow(scanner rowScanner) (*models.User, error) {
	u := &models.User{}
	err := scanner.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.FullName,
		&u.EmailVerified,
		&u.Enabled,
		&u.MFAEnabled,
		&u.MFASecret,
		&u.MFAEnrolledAt,
		&u.FailedLoginAttempts,
		&u.LastFailedLoginAt,
		&u.AccountLocked,
		&u.LockedAt,
		&u.LastLoginAt,
		&u.PasswordChangedAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return u, nil
}

// GetByUsername retrieves a user by username
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return scanUserRow(r.db.Pool.QueryRow(ctx, query, username))
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUserRow(r.db.Pool.QueryRow(ctx, query, email))
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUserRow(r.db.Pool.QueryRow(ctx, query, id))
}

// ExistsByUsername reports whether a username is taken
func (r *UserRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return exists, nil
}

// Create inserts a new user account
func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query := `
		INSERT INTO users (id, username, email, password_hash, full_name, email_verified, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + userColumns

	id := uuid.NewString()
	created, err := scanUserRow(r.db.Pool.QueryRow(ctx, query,
		id,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.FullName,
		user.EmailVerified,
		user.Enabled,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return created, nil
}

// Update persists mutable account fields
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	query := `
		UPDATE users SET
			email = $2,
			password_hash = $3,
			full_name = $4,
			email_verified = $5,
			enabled = $6,
			mfa_enabled = $7,
			mfa_secret = $8,
			mfa_enrolled_at = $9,
			failed_login_attempts = $10,
			last_failed_login_at = $11,
			account_locked = $12,
			locked_at = $13,
			last_login_at = $14,
			password_changed_at = $15,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.FullName,
		user.EmailVerified,
		user.Enabled,
		user.MFAEnabled,
		user.MFASecret,
		user.MFAEnrolledAt,
		user.FailedLoginAttempts,
		user.LastFailedLoginAt,
		user.AccountLocked,
		user.LockedAt,
		user.LastLoginAt,
		user.PasswordChangedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", database.MapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}
