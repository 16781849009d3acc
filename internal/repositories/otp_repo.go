package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/calder-ross/bastion/internal/database"
	"github.com/calder-ross/bastion/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// OtpRepository handles database operations for emailed one-time passwords
type OtpRepository struct {
	db *database.DB
}

// NewOtpRepository creates a new OtpRepository
func NewOtpRepository(db *database.DB) *OtpRepository {
	return &OtpRepository{db: db}
}

// InvalidateAndCreate marks all unused codes for the (user, purpose) pair as
// used and inserts the replacement in a single transaction, so two
// concurrently issued codes can never both be left valid.
func (r *OtpRepository) InvalidateAndCreate(ctx context.Context, otp *models.OneTimePassword) error {
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE one_time_passwords SET used = true
			WHERE user_id = $1 AND purpose = $2 AND used = false
		`, otp.UserID, otp.Purpose)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO one_time_passwords (id, user_id, code, purpose, used, expires_at)
			VALUES ($1, $2, $3, $4, false, $5)
		`, uuid.NewString(), otp.UserID, otp.Code, otp.Purpose, otp.ExpiresAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to issue otp: %w", database.MapPostgresError(err))
	}

	return nil
}

// FindValidByCode returns the matching unused, unexpired code for the
// (user, purpose) pair, or ErrNotFound
func (r *OtpRepository) FindValidByCode(ctx context.Context, userID, code string, purpose models.OtpPurpose, now time.Time) (*models.OneTimePassword, error) {
	query := `
		SELECT id, user_id, code, purpose, used, expires_at, created_at
		FROM one_time_passwords
		WHERE user_id = $1 AND code = $2 AND purpose = $3
			AND used = false AND expires_at > $4
		ORDER BY created_at DESC
		LIMIT 1
	`

	o := &models.OneTimePassword{}
	err := r.db.Pool.QueryRow(ctx, query, userID, code, purpose, now).Scan(
		&o.ID,
		&o.UserID,
		&o.Code,
		&o.Purpose,
		&o.Used,
		&o.ExpiresAt,
		&o.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return o, nil
}

// MarkUsed flips a code to used. The used = false guard makes the transition
// single-shot even under concurrent verification of the same code.
func (r *OtpRepository) MarkUsed(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE one_time_passwords SET used = true WHERE id = $1 AND used = false`, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DeleteExpired removes expired codes. Validity is a derived predicate, so
// this only bounds table growth.
func (r *OtpRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM one_time_passwords WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
