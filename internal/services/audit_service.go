package services

import (
	"encoding/json"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"fintrack/internal/models"
)

// auditService persists an audit trail of sensitive operations. Writes
// are best-effort: a failed audit insert is logged, never surfaced to
// the caller, so auditing can never fail the operation it records.
type auditService struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

// NewAuditService creates a new AuditServicer.
func NewAuditService(db *gorm.DB, log *zap.SugaredLogger) AuditServicer {
	return &auditService{db: db, log: log}
}

func (s *auditService) Log(userID uint, action, resourceType string, resourceID uint, ipAddress string, changes map[string]any) {
	entry := &models.AuditLog{
		UserID:       userID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IPAddress:    ipAddress,
	}
	if len(changes) > 0 {
		if payload, err := json.Marshal(changes); err == nil {
			entry.Changes = string(payload)
		}
	}

	if err := s.db.Create(entry).Error; err != nil {
		s.log.Warnw("audit write failed",
			"action", action,
			"resource_type", resourceType,
			"error", err,
		)
	}
}
