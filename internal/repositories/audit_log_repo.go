package repositories

import (
	"context"
	"fmt"

	"github.com/calder-ross/bastion/internal/database"
	"github.com/calder-ross/bastion/internal/models"
	"github.com/google/uuid"
)

// AuditLogRepository handles database operations for the audit trail
type AuditLogRepository struct {
	db *database.DB
}

// NewAuditLogRepository creates a new AuditLogRepository
func NewAuditLogRepository(db *database.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

// Create persists an audit event
func (r *AuditLogRepository) Create(ctx context.Context, log *models.AuditLog) error {
	query := `
		INSERT INTO audit_logs (id, event_type, username, success, failure_reason, ip_address, user_agent, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		uuid.New(),
		log.EventType,
		log.Username,
		log.Success,
		log.FailureReason,
		log.IPAddress,
		log.UserAgent,
		log.Metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", database.MapPostgresError(err))
	}

	return nil
}

// ListByUsername retrieves the audit trail for a user, newest first
func (r *AuditLogRepository) ListByUsername(ctx context.Context, username string, limit, offset int) ([]*models.AuditLog, error) {
	query := `
		SELECT id, event_type, username, success, failure_reason, ip_address, user_agent, metadata, created_at
		FROM audit_logs
		WHERE username = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool.Query(ctx, query, username, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		l := &models.AuditLog{}
		if err := rows.Scan(
			&l.ID,
			&l.EventType,
			&l.Username,
			&l.Success,
			&l.FailureReason,
			&l.IPAddress,
			&l.UserAgent,
			&l.Metadata,
			&l.CreatedAt,
		); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}

	return logs, rows.Err()
}
