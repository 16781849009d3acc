package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/calder-ross/bastion/internal/database"
	"github.com/calder-ross/bastion/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
)

// BackupCodeRepository handles database operations for MFA backup codes
type BackupCodeRepository struct {
	db *database.DB
}

// NewBackupCodeRepository creates a new BackupCodeRepository
func NewBackupCodeRepository(db *database.DB) *BackupCodeRepository {
	return &BackupCodeRepository{db: db}
}

// ReplaceAll deletes the user's existing codes and inserts the new hashed set
// in one transaction. The set is always replaced wholesale, never patched.
func (r *BackupCodeRepository) ReplaceAll(ctx context.Context, userID string, codeHashes []string) error {
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM backup_codes WHERE user_id = $1`, userID); err != nil {
			return err
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO backup_codes (id, user_id, code_hash, used)
			SELECT gen_random_uuid(), $1, hash, false
			FROM unnest($2::text[]) AS hash
		`, userID, pq.Array(codeHashes))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to replace backup codes: %w", database.MapPostgresError(err))
	}

	return nil
}

// ListUnused returns the user's unused backup codes
func (r *BackupCodeRepository) ListUnused(ctx context.Context, userID string) ([]*models.BackupCode, error) {
	query := `
		SELECT id, user_id, code_hash, used, used_at, created_at
		FROM backup_codes
		WHERE user_id = $1 AND used = false
		ORDER BY created_at
	`

	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list backup codes: %w", err)
	}
	defer rows.Close()

	var codes []*models.BackupCode
	for rows.Next() {
		c := &models.BackupCode{}
		if err := rows.Scan(&c.ID, &c.UserID, &c.CodeHash, &c.Used, &c.UsedAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		codes = append(codes, c)
	}

	return codes, rows.Err()
}

// MarkUsed consumes a backup code. The used = false guard keeps the
// transition single-shot under concurrent verification.
func (r *BackupCodeRepository) MarkUsed(ctx context.Context, id string, usedAt time.Time) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE backup_codes SET used = true, used_at = $2
		WHERE id = $1 AND used = false
	`, id, usedAt)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DeleteByUser removes all of a user's backup codes (MFA disable)
func (r *BackupCodeRepository) DeleteByUser(ctx context.Context, userID string) error {
	_, err := r.db.Pool.Exec(ctx,
		`DELETE FROM backup_codes WHERE user_id = $1`, userID)
	return err
}
