package services

import (
	"context"
	"log/slog"

	"github.com/calder-ross/bastion/internal/models"
	pkglogger "github.com/calder-ross/bastion/pkg/logger"
)

// AuditStore persists audit events and serves the per-user trail
type AuditStore interface {
	Create(ctx context.Context, log *models.AuditLog) error
	ListByUsername(ctx context.Context, username string, limit, offset int) ([]*models.AuditLog, error)
}

// AuditService records security events with a dual-write pattern: immediate
// slog output plus database persistence. Persistence is fire-and-forget; a
// failed write never aborts the authentication flow.
type AuditService struct {
	store       AuditStore
	auditLogger *pkglogger.AuditLogger
	logger      *slog.Logger
}

// NewAuditService creates a new AuditService
func NewAuditService(store AuditStore, auditLogger *pkglogger.AuditLogger, logger *slog.Logger) *AuditService {
	return &AuditService{
		store:       store,
		auditLogger: auditLogger,
		logger:      logger,
	}
}

// LogEvent records an audit event for a user
func (s *AuditService) LogEvent(ctx context.Context, eventType, username string, success bool, details string) {
	s.LogEventWithContext(ctx, eventType, username, success, details, nil)
}

// LogEventWithContext records an audit event including the request context
func (s *AuditService) LogEventWithContext(ctx context.Context, eventType, username string, success bool, details string, loginCtx *models.LoginContext) {
	event := pkglogger.AuditEvent{
		EventType:     eventType,
		Username:      username,
		Success:       success,
		FailureReason: failureReason(success, details),
	}

	log := &models.AuditLog{
		EventType: eventType,
		Success:   success,
	}
	if username != "" {
		log.Username = &username
	}
	if !success && details != "" {
		log.FailureReason = &details
	}
	if details != "" {
		log.Metadata = models.AuditMetadata{"details": details}
	}
	if loginCtx != nil {
		event.IPAddress = loginCtx.IPAddress
		event.UserAgent = loginCtx.UserAgent
		log.IPAddress = &loginCtx.IPAddress
		log.UserAgent = &loginCtx.UserAgent
	}

	s.auditLogger.LogAuthAttempt(event)

	if err := s.store.Create(ctx, log); err != nil {
		// Log-and-continue: auditing must never break authentication
		s.logger.Error("failed to persist audit log",
			slog.String("event_type", eventType),
			slog.Any("error", err))
	}
}

// GetUserAuditTrail returns a page of the user's audit events, newest first
func (s *AuditService) GetUserAuditTrail(ctx context.Context, username string, limit, offset int) ([]*models.AuditLog, error) {
	logs, err := s.store.ListByUsername(ctx, username, limit, offset)
	if err != nil {
		s.logger.Error("failed to read audit trail",
			slog.String("username", username),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return logs, nil
}

func failureReason(success bool, details string) string {
	if success {
		return ""
	}
	return details
}
