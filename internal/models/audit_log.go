package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrAuditImmutable is returned when something tries to rewrite the audit trail.
var ErrAuditImmutable = errors.New("audit log entries are append-only")

// AuditLog is an append-only record of a decision or ledger event.
type AuditLog struct {
	ID              string            `gorm:"primaryKey;size:36" json:"id"`
	Action          string            `gorm:"not null;index;size:64" json:"action"`
	ActorID         string            `gorm:"index;size:64" json:"actorId"`
	ActorRole       PartyRole         `gorm:"size:16" json:"actorRole"`
	RequestID       string            `gorm:"index;size:64" json:"requestId,omitempty"`
	CreditID        string            `gorm:"index;size:96" json:"creditId,omitempty"`
	ProducerID      string            `gorm:"index;size:64" json:"producerId,omitempty"`
	CertifierID     string            `gorm:"index;size:64" json:"certifierId,omitempty"`
	RejectionReason string            `json:"rejectionReason,omitempty"`
	TransactionHash string            `gorm:"size:66" json:"transactionHash,omitempty"`
	Result          string            `gorm:"not null;size:16" json:"result"`
	IPAddress       string            `gorm:"size:64" json:"ipAddress,omitempty"`
	UserAgent       string            `gorm:"size:512" json:"userAgent,omitempty"`
	Metadata        datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt       time.Time         `gorm:"index" json:"timestamp"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

func (a *AuditLog) BeforeUpdate(tx *gorm.DB) error {
	return ErrAuditImmutable
}

func (a *AuditLog) BeforeDelete(tx *gorm.DB) error {
	return ErrAuditImmutable
}
