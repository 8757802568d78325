package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/hycredit/internal/auditctx"
	"github.com/charlesng35/hycredit/internal/models"
	"github.com/charlesng35/hycredit/internal/permissions"
)

// AuditEntry captures a single audit event to persist.
type AuditEntry struct {
	Action          string
	ActorID         string
	ActorRole       models.PartyRole
	RequestID       string
	CreditID        string
	ProducerID      string
	CertifierID     string
	RejectionReason string
	TransactionHash string
	Result          string
	Metadata        map[string]any
}

// AuditFilters encapsulates optional filters when querying audit logs.
type AuditFilters struct {
	Action    string
	ActorID   string
	RequestID string
	CreditID  string
	Result    string
	Since     *time.Time
	Until     *time.Time
}

// AuditListOptions controls pagination and filtering for audit queries.
type AuditListOptions struct {
	Page     int
	PageSize int
	Filters  AuditFilters
}

// AuditService appends to and reads the audit trail. Entries are never updated or
// removed.
type AuditService struct {
	db    *gorm.DB
	authz Authorizer
	now   Clock
}

// NewAuditService constructs an AuditService using the provided database handle.
func NewAuditService(db *gorm.DB, authz Authorizer) (*AuditService, error) {
	if db == nil {
		return nil, errors.New("audit service: db is required")
	}
	if authz == nil {
		return nil, errors.New("audit service: authorizer is required")
	}
	return &AuditService{db: db, authz: authz, now: systemClock}, nil
}

// Log stores an audit entry on its own.
func (s *AuditService) Log(ctx context.Context, entry AuditEntry) error {
	return s.LogTx(s.db.WithContext(ensureContext(ctx)), entry)
}

// LogTx stores an audit entry inside the caller's transaction so it commits or
// rolls back with the decision it describes.
func (s *AuditService) LogTx(tx *gorm.DB, entry AuditEntry) error {
	if strings.TrimSpace(entry.Action) == "" {
		return errors.New("audit service: action is required")
	}
	if strings.TrimSpace(entry.Result) == "" {
		return errors.New("audit service: result is required")
	}

	log := models.AuditLog{
		Action:          strings.TrimSpace(entry.Action),
		ActorID:         strings.TrimSpace(entry.ActorID),
		ActorRole:       entry.ActorRole,
		RequestID:       entry.RequestID,
		CreditID:        entry.CreditID,
		ProducerID:      entry.ProducerID,
		CertifierID:     entry.CertifierID,
		RejectionReason: entry.RejectionReason,
		TransactionHash: entry.TransactionHash,
		Result:          strings.TrimSpace(entry.Result),
		CreatedAt:       s.now(),
	}
	if len(entry.Metadata) > 0 {
		log.Metadata = datatypes.JSONMap(entry.Metadata)
	}
	if tx.Statement != nil {
		if client, ok := auditctx.FromContext(tx.Statement.Context); ok {
			log.IPAddress = truncate(client.IPAddress, 64)
			log.UserAgent = truncate(client.UserAgent, 512)
		}
	}

	if err := tx.Create(&log).Error; err != nil {
		return fmt.Errorf("audit service: append entry: %w", err)
	}
	return nil
}

// List returns the audit entries visible to actor, newest first. Certifiers see
// entries they authored or that concern their assigned requests, producers see
// entries about their own requests and credits, and operators see everything.
func (s *AuditService) List(ctx context.Context, actor permissions.Actor, opts AuditListOptions) ([]models.AuditLog, int64, error) {
	ctx = ensureContext(ctx)

	party, err := s.authz.Authorize(ctx, actor, permissions.OpViewAudit)
	if err != nil {
		return nil, 0, err
	}

	page, perPage := normalisePage(opts.Page, opts.PageSize)

	query := s.db.WithContext(ctx).Model(&models.AuditLog{})
	switch party.Role {
	case models.RoleProducer:
		query = query.Where("producer_id = ?", party.ID)
	case models.RoleCertifier:
		query = query.Where("actor_id = ? OR certifier_id = ?", party.ID, party.ID)
	}
	query = applyAuditFilters(query, opts.Filters)

	var (
		results []models.AuditLog
		total   int64
	)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: count logs: %w", err)
	}
	if err := query.
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&results).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: list logs: %w", err)
	}

	return results, total, nil
}

// CountForRequest returns how many entries with the given action exist for a request.
func (s *AuditService) CountForRequest(ctx context.Context, requestID, action string) (int64, error) {
	var count int64
	err := s.db.WithContext(ensureContext(ctx)).
		Model(&models.AuditLog{}).
		Where("request_id = ? AND action = ?", requestID, action).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("audit service: count entries: %w", err)
	}
	return count, nil
}

func applyAuditFilters(query *gorm.DB, filters AuditFilters) *gorm.DB {
	if filters.Action != "" {
		query = query.Where("action = ?", filters.Action)
	}
	if filters.ActorID != "" {
		query = query.Where("actor_id = ?", filters.ActorID)
	}
	if filters.RequestID != "" {
		query = query.Where("request_id = ?", filters.RequestID)
	}
	if filters.CreditID != "" {
		query = query.Where("credit_id = ?", filters.CreditID)
	}
	if filters.Result != "" {
		query = query.Where("result = ?", filters.Result)
	}
	if filters.Since != nil {
		query = query.Where("created_at >= ?", *filters.Since)
	}
	if filters.Until != nil {
		query = query.Where("created_at <= ?", *filters.Until)
	}
	return query
}
