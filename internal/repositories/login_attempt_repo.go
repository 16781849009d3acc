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

// LoginAttemptRepository is the append-only attempt ledger. Rows are inserted
// once and only ever read back as aggregates.
type LoginAttemptRepository struct {
	db *database.DB
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository
func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

// RecordAttempt appends a login attempt to the ledger
func (r *LoginAttemptRepository) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	query := `
		INSERT INTO login_attempts (
			id, username, ip_address, user_agent, device_fingerprint, success,
			risk_score, risk_factors, country_code, city, proxy, vpn,
			verification_required, verification_method
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		uuid.NewString(),
		attempt.Username,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.DeviceFingerprint,
		attempt.Success,
		attempt.RiskScore,
		attempt.RiskFactors,
		attempt.CountryCode,
		attempt.City,
		attempt.Proxy,
		attempt.VPN,
		attempt.VerificationRequired,
		attempt.VerificationMethod,
	)
	if err != nil {
		return fmt.Errorf("failed to record login attempt: %w", database.MapPostgresError(err))
	}

	return nil
}

// CountFailedAttempts returns the number of failed attempts for a username
// within a time window
func (r *LoginAttemptRepository) CountFailedAttempts(ctx context.Context, username string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE username = $1 AND success = false AND attempted_at >= $2
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, username, since).Scan(&count)
	return count, err
}

// CountAttempts returns the total number of attempts for a username within a
// time window
func (r *LoginAttemptRepository) CountAttempts(ctx context.Context, username string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE username = $1 AND attempted_at >= $2
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, username, since).Scan(&count)
	return count, err
}

// CountDistinctIPs returns the number of distinct IP addresses a username has
// attempted from within a time window
func (r *LoginAttemptRepository) CountDistinctIPs(ctx context.Context, username string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(DISTINCT ip_address) FROM login_attempts
		WHERE username = $1 AND attempted_at >= $2
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, username, since).Scan(&count)
	return count, err
}

// DistinctCountryCodes returns the distinct, non-null country codes seen for
// a username within a time window
func (r *LoginAttemptRepository) DistinctCountryCodes(ctx context.Context, username string, since time.Time) ([]string, error) {
	query := `
		SELECT DISTINCT country_code FROM login_attempts
		WHERE username = $1 AND attempted_at >= $2 AND country_code IS NOT NULL
		ORDER BY country_code
	`

	rows, err := r.db.Pool.Query(ctx, query, username, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query distinct countries: %w", err)
	}
	defer rows.Close()

	var countries []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		countries = append(countries, code)
	}

	return countries, rows.Err()
}

// LastSuccessfulAttempt returns the most recent successful attempt for a
// username, or nil if there has never been one
func (r *LoginAttemptRepository) LastSuccessfulAttempt(ctx context.Context, username string) (*models.LoginAttempt, error) {
	query := `
		SELECT id, username, ip_address, user_agent, device_fingerprint, success,
			risk_score, risk_factors, country_code, city, proxy, vpn,
			verification_required, verification_method, attempted_at
		FROM login_attempts
		WHERE username = $1 AND success = true
		ORDER BY attempted_at DESC
		LIMIT 1
	`

	a := &models.LoginAttempt{}
	err := r.db.Pool.QueryRow(ctx, query, username).Scan(
		&a.ID,
		&a.Username,
		&a.IPAddress,
		&a.UserAgent,
		&a.DeviceFingerprint,
		&a.Success,
		&a.RiskScore,
		&a.RiskFactors,
		&a.CountryCode,
		&a.City,
		&a.Proxy,
		&a.VPN,
		&a.VerificationRequired,
		&a.VerificationMethod,
		&a.AttemptedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last successful attempt: %w", err)
	}

	return a, nil
}

// DeleteOlderThan removes ledger rows older than the cutoff. Bounds storage
// growth only; scoring correctness does not depend on it.
func (r *LoginAttemptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM login_attempts WHERE attempted_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
