package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/calder-ross/bastion/internal/models"
	pkghttp "github.com/calder-ross/bastion/pkg/http"
)

// AuditTrailReader serves the per-user audit trail
type AuditTrailReader interface {
	GetUserAuditTrail(ctx context.Context, username string, limit, offset int) ([]*models.AuditLog, error)
}

// AuditHandler handles audit trail HTTP requests
type AuditHandler struct {
	audit AuditTrailReader
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(audit AuditTrailReader) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// AuditLogResponse represents an audit log entry in HTTP responses
type AuditLogResponse struct {
	ID            string         `json:"id"`
	EventType     string         `json:"event_type"`
	Username      *string        `json:"username,omitempty"`
	Success       bool           `json:"success"`
	FailureReason *string        `json:"failure_reason,omitempty"`
	IPAddress     *string        `json:"ip_address,omitempty"`
	UserAgent     *string        `json:"user_agent,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     string         `json:"created_at"`
}

// GetUserAuditTrail returns a page of the user's security events, newest
// first
func (h *AuditHandler) GetUserAuditTrail(w http.ResponseWriter, r *http.Request) {
	username := usernameFromPath(r)
	if username == "" {
		pkghttp.WriteBadRequest(w, "Missing username")
		return
	}

	limit := 50
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	logs, err := h.audit.GetUserAuditTrail(r.Context(), username, limit, offset)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	response := make([]*AuditLogResponse, len(logs))
	for i, log := range logs {
		response[i] = auditLogToResponse(log)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"logs":   response,
		"limit":  limit,
		"offset": offset,
	})
}

func auditLogToResponse(log *models.AuditLog) *AuditLogResponse {
	return &AuditLogResponse{
		ID:            log.ID.String(),
		EventType:     log.EventType,
		Username:      log.Username,
		Success:       log.Success,
		FailureReason: log.FailureReason,
		IPAddress:     log.IPAddress,
		UserAgent:     log.UserAgent,
		Metadata:      log.Metadata,
		CreatedAt:     log.CreatedAt.Format(time.RFC3339),
	}
}
