package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/calder-ross/bastion/internal/database"
	"github.com/calder-ross/bastion/internal/models"
	"github.com/google/uuid"
)

// TrustedDeviceRepository handles database operations for trusted devices.
// A partial unique index on (user_id, device_fingerprint) WHERE active
// enforces the one-active-row invariant at the storage layer.
type TrustedDeviceRepository struct {
	db *database.DB
}

// NewTrustedDeviceRepository creates a new TrustedDeviceRepository
func NewTrustedDeviceRepository(db *database.DB) *TrustedDeviceRepository {
	return &TrustedDeviceRepository{db: db}
}

const trustedDeviceColumns = `
	id, user_id, device_fingerprint, device_name, last_ip_address,
	last_user_agent, last_country_code, created_at, last_used_at,
	trust_expires_at, active
`

func scanTrustedDeviceRow(scanner rowScanner) (*models.TrustedDevice, error) {
	d := &models.TrustedDevice{}
	err := scanner.Scan(
		&d.ID,
		&d.UserID,
		&d.DeviceFingerprint,
		&d.DeviceName,
		&d.LastIPAddress,
		&d.LastUserAgent,
		&d.LastCountryCode,
		&d.CreatedAt,
		&d.LastUsedAt,
		&d.TrustExpiresAt,
		&d.Active,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return d, nil
}

// GetActiveByFingerprint returns the active, unexpired trusted device for a
// (user, fingerprint) pair. Expiry is enforced here at read time; expired
// rows are treated as absent without waiting for the background sweep.
func (r *TrustedDeviceRepository) GetActiveByFingerprint(ctx context.Context, userID, fingerprint string) (*models.TrustedDevice, error) {
	query := `
		SELECT ` + trustedDeviceColumns + `
		FROM trusted_devices
		WHERE user_id = $1 AND device_fingerprint = $2 AND active = true
			AND trust_expires_at > CURRENT_TIMESTAMP
	`

	device, err := scanTrustedDeviceRow(r.db.Pool.QueryRow(ctx, query, userID, fingerprint))
	if err != nil {
		return nil, err
	}

	return device, nil
}

// GetByID retrieves a trusted device by ID
func (r *TrustedDeviceRepository) GetByID(ctx context.Context, id string) (*models.TrustedDevice, error) {
	query := `SELECT ` + trustedDeviceColumns + ` FROM trusted_devices WHERE id = $1`
	return scanTrustedDeviceRow(r.db.Pool.QueryRow(ctx, query, id))
}

// ListActiveByUser returns the user's active, unexpired trusted devices
func (r *TrustedDeviceRepository) ListActiveByUser(ctx context.Context, userID string) ([]*models.TrustedDevice, error) {
	query := `
		SELECT ` + trustedDeviceColumns + `
		FROM trusted_devices
		WHERE user_id = $1 AND active = true AND trust_expires_at > CURRENT_TIMESTAMP
		ORDER BY last_used_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list trusted devices: %w", err)
	}
	defer rows.Close()

	var devices []*models.TrustedDevice
	for rows.Next() {
		device, err := scanTrustedDeviceRow(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, device)
	}

	return devices, rows.Err()
}

// Upsert creates a trust row, or refreshes last-used and expiry if an active
// row for the fingerprint already exists. The conflict target matches the
// partial unique index, giving an atomic read-modify-write per pair.
func (r *TrustedDeviceRepository) Upsert(ctx context.Context, device *models.TrustedDevice) (*models.TrustedDevice, error) {
	query := `
		INSERT INTO trusted_devices (
			id, user_id, device_fingerprint, device_name, last_ip_address,
			last_user_agent, last_country_code, last_used_at, trust_expires_at, active
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, CURRENT_TIMESTAMP, $8, true)
		ON CONFLICT (user_id, device_fingerprint) WHERE active
		DO UPDATE SET
			device_name = EXCLUDED.device_name,
			last_ip_address = EXCLUDED.last_ip_address,
			last_user_agent = EXCLUDED.last_user_agent,
			last_country_code = EXCLUDED.last_country_code,
			last_used_at = CURRENT_TIMESTAMP,
			trust_expires_at = EXCLUDED.trust_expires_at
		RETURNING ` + trustedDeviceColumns

	saved, err := scanTrustedDeviceRow(r.db.Pool.QueryRow(ctx, query,
		uuid.NewString(),
		device.UserID,
		device.DeviceFingerprint,
		device.DeviceName,
		device.LastIPAddress,
		device.LastUserAgent,
		device.LastCountryCode,
		device.TrustExpiresAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert trusted device: %w", err)
	}

	return saved, nil
}

// TouchLastUsed refreshes the last-used timestamp on device reuse
func (r *TrustedDeviceRepository) TouchLastUsed(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE trusted_devices SET last_used_at = CURRENT_TIMESTAMP WHERE id = $1`, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Deactivate marks a trusted device inactive
func (r *TrustedDeviceRepository) Deactivate(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE trusted_devices SET active = false WHERE id = $1`, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DeactivateExpired flips expired trust rows to inactive. The read path
// already ignores expired rows; this only keeps the table tidy.
func (r *TrustedDeviceRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE trusted_devices SET active = false WHERE active = true AND trust_expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
