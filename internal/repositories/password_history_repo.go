package repositories

import (
	"context"
	"fmt"

	"github.com/calder-ross/bastion/internal/database"
)

// PasswordHistoryRepository handles database operations for retained
// password hashes
type PasswordHistoryRepository struct {
	db *database.DB
}

// NewPasswordHistoryRepository creates a new PasswordHistoryRepository
func NewPasswordHistoryRepository(db *database.DB) *PasswordHistoryRepository {
	return &PasswordHistoryRepository{db: db}
}

// ListRecentHashes returns the user's most recent password hashes, newest
// first
func (r *PasswordHistoryRepository) ListRecentHashes(ctx context.Context, userID string, limit int) ([]string, error) {
	query := `
		SELECT password_hash
		FROM password_history
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list password history: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, err
		}
		hashes = append(hashes, hash)
	}

	return hashes, rows.Err()
}

// Add records a new password hash and prunes entries beyond the retention
// depth, oldest first
func (r *PasswordHistoryRepository) Add(ctx context.Context, userID, passwordHash string, keep int) error {
	insert := `
		INSERT INTO password_history (user_id, password_hash)
		VALUES ($1, $2)
	`

	if _, err := r.db.Pool.Exec(ctx, insert, userID, passwordHash); err != nil {
		return fmt.Errorf("failed to record password history: %w", database.MapPostgresError(err))
	}

	prune := `
		DELETE FROM password_history
		WHERE user_id = $1 AND id NOT IN (
			SELECT id FROM password_history
			WHERE user_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		)
	`

	if _, err := r.db.Pool.Exec(ctx, prune, userID, keep); err != nil {
		return fmt.Errorf("failed to prune password history: %w", err)
	}

	return nil
}
