package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/hycredit/internal/fingerprint"
	"github.com/charlesng35/hycredit/internal/lifecycle"
	"github.com/charlesng35/hycredit/internal/models"
	"github.com/charlesng35/hycredit/internal/permissions"
	appErrors "github.com/charlesng35/hycredit/pkg/errors"
	"github.com/charlesng35/hycredit/pkg/logger"
)

// DocumentInput is an uploaded proof document.
type DocumentInput struct {
	Slot         models.DocumentSlot
	FileName     string
	MediaType    string
	DocumentType string
	Content      []byte
}

// CreateRequestInput describes a producer's new credit request.
type CreateRequestInput struct {
	CertifierID string
	Data        models.RequestData
	Notes       string
	Tags        []string
	Documents   []DocumentInput
}

// RequestFilters narrows request listings.
type RequestFilters struct {
	Status      models.RequestStatus
	ProducerID  string
	CertifierID string
}

// RequestListOptions controls pagination for request listing.
type RequestListOptions struct {
	Page     int
	PageSize int
	Filters  RequestFilters
}

// VerifyResult compares a stored metadata hash with a fresh fingerprint of the data.
type VerifyResult struct {
	RequestID    string `json:"requestId"`
	MetadataHash string `json:"metadataHash"`
	ComputedHash string `json:"computedHash"`
	Valid        bool   `json:"valid"`
}

// CreditRequestService stores credit requests and persists lifecycle transitions.
type CreditRequestService struct {
	db    *gorm.DB
	authz Authorizer
	audit *AuditService
	now   Clock
}

// NewCreditRequestService constructs a CreditRequestService.
func NewCreditRequestService(db *gorm.DB, authz Authorizer, audit *AuditService) (*CreditRequestService, error) {
	if db == nil {
		return nil, errors.New("credit request service: db is required")
	}
	if authz == nil {
		return nil, errors.New("credit request service: authorizer is required")
	}
	if audit == nil {
		return nil, errors.New("credit request service: audit service is required")
	}
	return &CreditRequestService{db: db, authz: authz, audit: audit, now: systemClock}, nil
}

// Create validates and stores a PENDING request with its fingerprinted documents.
func (s *CreditRequestService) Create(ctx context.Context, actor permissions.Actor, input CreateRequestInput) (*models.CreditRequest, error) {
	ctx = ensureContext(ctx)

	producer, err := s.authz.Authorize(ctx, actor, permissions.OpCreateRequest)
	if err != nil {
		return nil, err
	}
	if err := validateDocumentSet(input.Documents); err != nil {
		return nil, err
	}

	certifierID := strings.TrimSpace(input.CertifierID)
	if certifierID == "" {
		return nil, appErrors.Validation("certifierId is required")
	}
	var certifier models.Party
	if err := s.db.WithContext(ctx).First(&certifier, "id = ?", certifierID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErrors.NotFound("certifier %s not found", certifierID)
		}
		return nil, fmt.Errorf("credit request service: load certifier: %w", err)
	}

	now := s.now()
	req, err := lifecycle.NewRequest(lifecycle.Draft{
		Producer:  producer,
		Certifier: certifier,
		Data:      input.Data,
		Notes:     input.Notes,
		Tags:      normaliseTags(input.Tags),
	}, lifecycle.NewRequestID(now), now)
	if err != nil {
		return nil, err
	}

	docs, err := fingerprintDocuments(ctx, req.RequestID, input.Documents, now)
	if err != nil {
		return nil, err
	}
	req.Documents = docs

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&req).Error; err != nil {
			if isUniqueConstraintError(err) {
				return appErrors.ErrConflict.WithMessage("batch %s has already been submitted", req.RequestData.BatchID)
			}
			return fmt.Errorf("credit request service: create request: %w", err)
		}
		return s.audit.LogTx(tx, AuditEntry{
			Action:      ActionRequestCreate,
			ActorID:     producer.ID,
			ActorRole:   producer.Role,
			RequestID:   req.RequestID,
			ProducerID:  req.ProducerID,
			CertifierID: req.CertifierID,
			Result:      ResultSuccess,
			Metadata: map[string]any{
				"batchId":      req.RequestData.BatchID,
				"metadataHash": req.MetadataHash,
				"documents":    len(docs),
			},
		})
	})
	if err != nil {
		return nil, err
	}

	logger.WithModule("requests").Info("credit request submitted",
		zap.String("request_id", req.RequestID),
		zap.String("producer_id", req.ProducerID),
		zap.String("certifier_id", req.CertifierID))

	return s.Load(ctx, req.RequestID)
}

func validateDocumentSet(docs []DocumentInput) error {
	seen := make(map[models.DocumentSlot]bool, len(docs))
	for _, doc := range docs {
		if !doc.Slot.Valid() {
			return appErrors.Validation("document slot %q is not recognised", doc.Slot)
		}
		if doc.Slot.Singleton() && seen[doc.Slot] {
			return appErrors.Validation("document slot %s accepts a single file", doc.Slot)
		}
		seen[doc.Slot] = true
	}
	return nil
}

func fingerprintDocuments(ctx context.Context, requestID string, inputs []DocumentInput, now time.Time) ([]models.RequestDocument, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	uploads := make([]fingerprint.DocumentUpload, len(inputs))
	for i, in := range inputs {
		uploads[i] = fingerprint.DocumentUpload{
			Slot:      string(in.Slot),
			FileName:  in.FileName,
			MediaType: in.MediaType,
			Content:   in.Content,
		}
	}
	digests, err := fingerprint.Documents(ctx, uploads)
	if err != nil {
		return nil, err
	}

	docs := make([]models.RequestDocument, len(inputs))
	certPosition := 0
	for i, in := range inputs {
		position := 0
		if !in.Slot.Singleton() {
			position = certPosition
			certPosition++
		}
		docs[i] = newDocument(requestID, in, position, digests[i], now)
	}
	return docs, nil
}

func newDocument(requestID string, in DocumentInput, position int, digest fingerprint.Digest, now time.Time) models.RequestDocument {
	return models.RequestDocument{
		RequestID:    requestID,
		Slot:         in.Slot,
		Position:     position,
		Fingerprint:  digest.String(),
		FileName:     strings.TrimSpace(in.FileName),
		MediaType:    strings.TrimSpace(in.MediaType),
		DocumentType: strings.TrimSpace(in.DocumentType),
		Size:         int64(len(in.Content)),
		UploadedAt:   now,
	}
}

// AttachDocument fingerprints a document and files it under its slot. Single-file
// slots are replaced; certification documents accumulate.
func (s *CreditRequestService) AttachDocument(ctx context.Context, actor permissions.Actor, requestID string, input DocumentInput) (*models.RequestDocument, error) {
	ctx = ensureContext(ctx)

	party, err := s.authz.Authorize(ctx, actor, permissions.OpUploadDocument)
	if err != nil {
		return nil, err
	}
	if !input.Slot.Valid() {
		return nil, appErrors.Validation("document slot %q is not recognised", input.Slot)
	}

	req, err := s.Load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.ProducerID != party.ID {
		return nil, appErrors.ErrAuthorization.WithMessage("only the submitting producer can attach documents to %s", requestID)
	}
	if req.Status != models.StatusPending {
		return nil, appErrors.InvalidState("request %s is %s and no longer accepts documents", requestID, req.Status)
	}

	now := s.now()
	doc := newDocument(req.RequestID, input, 0, fingerprint.Bytes(input.Content), now)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if input.Slot.Singleton() {
			var existing models.RequestDocument
			err := tx.Where("request_id = ? AND slot = ? AND position = 0", req.RequestID, input.Slot).First(&existing).Error
			switch {
			case err == nil:
				doc.ID = existing.ID
				doc.CreatedAt = existing.CreatedAt
				if err := tx.Save(&doc).Error; err != nil {
					return fmt.Errorf("credit request service: replace document: %w", err)
				}
			case errors.Is(err, gorm.ErrRecordNotFound):
				if err := tx.Create(&doc).Error; err != nil {
					return fmt.Errorf("credit request service: store document: %w", err)
				}
			default:
				return fmt.Errorf("credit request service: load document: %w", err)
			}
		} else {
			var last struct{ Max *int }
			if err := tx.Model(&models.RequestDocument{}).
				Select("MAX(position) AS max").
				Where("request_id = ? AND slot = ?", req.RequestID, input.Slot).
				Scan(&last).Error; err != nil {
				return fmt.Errorf("credit request service: next document position: %w", err)
			}
			if last.Max != nil {
				doc.Position = *last.Max + 1
			}
			if err := tx.Create(&doc).Error; err != nil {
				return fmt.Errorf("credit request service: store document: %w", err)
			}
		}

		return s.audit.LogTx(tx, AuditEntry{
			Action:      ActionDocumentUpload,
			ActorID:     party.ID,
			ActorRole:   party.Role,
			RequestID:   req.RequestID,
			ProducerID:  req.ProducerID,
			CertifierID: req.CertifierID,
			Result:      ResultSuccess,
			Metadata: map[string]any{
				"slot":     string(doc.Slot),
				"position": doc.Position,
				"hash":     doc.Fingerprint,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Get returns a request visible to actor, documents included.
func (s *CreditRequestService) Get(ctx context.Context, actor permissions.Actor, requestID string) (*models.CreditRequest, error) {
	ctx = ensureContext(ctx)

	party, err := s.authz.Authorize(ctx, actor, permissions.OpViewRequest)
	if err != nil {
		return nil, err
	}
	req, err := s.Load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !canViewRequest(party, *req) {
		return nil, appErrors.ErrAuthorization.WithMessage("request %s is not visible to party %s", requestID, party.ID)
	}
	return req, nil
}

// List returns requests visible to actor, newest first.
func (s *CreditRequestService) List(ctx context.Context, actor permissions.Actor, opts RequestListOptions) ([]models.CreditRequest, int64, error) {
	ctx = ensureContext(ctx)

	party, err := s.authz.Authorize(ctx, actor, permissions.OpViewRequest)
	if err != nil {
		return nil, 0, err
	}
	return s.list(ctx, party, opts)
}

// Pending returns the PENDING requests assigned to the acting certifier.
func (s *CreditRequestService) Pending(ctx context.Context, actor permissions.Actor, page, pageSize int) ([]models.CreditRequest, int64, error) {
	ctx = ensureContext(ctx)

	party, err := s.authz.Authorize(ctx, actor, permissions.OpApproveRequest)
	if err != nil {
		return nil, 0, err
	}
	return s.list(ctx, party, RequestListOptions{
		Page:     page,
		PageSize: pageSize,
		Filters:  RequestFilters{Status: models.StatusPending},
	})
}

func (s *CreditRequestService) list(ctx context.Context, party models.Party, opts RequestListOptions) ([]models.CreditRequest, int64, error) {
	page, perPage := normalisePage(opts.Page, opts.PageSize)

	query := scopeRequests(s.db.WithContext(ctx).Model(&models.CreditRequest{}), party)
	if opts.Filters.Status != "" {
		query = query.Where("status = ?", opts.Filters.Status)
	}
	if opts.Filters.ProducerID != "" {
		query = query.Where("producer_id = ?", opts.Filters.ProducerID)
	}
	if opts.Filters.CertifierID != "" {
		query = query.Where("certifier_id = ?", opts.Filters.CertifierID)
	}

	var (
		results []models.CreditRequest
		total   int64
	)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("credit request service: count requests: %w", err)
	}
	if err := query.
		Preload("Documents", orderDocuments).
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&results).Error; err != nil {
		return nil, 0, fmt.Errorf("credit request service: list requests: %w", err)
	}
	return results, total, nil
}

// Verify recomputes the metadata fingerprint of a stored request.
func (s *CreditRequestService) Verify(ctx context.Context, actor permissions.Actor, requestID string) (*VerifyResult, error) {
	req, err := s.Get(ctx, actor, requestID)
	if err != nil {
		return nil, err
	}

	digest, err := fingerprint.Object(req.RequestData)
	if err != nil {
		return nil, err
	}
	computed := digest.String()
	return &VerifyResult{
		RequestID:    req.RequestID,
		MetadataHash: req.MetadataHash,
		ComputedHash: computed,
		Valid:        strings.EqualFold(computed, req.MetadataHash),
	}, nil
}

// Load reads a request without any authorization check.
func (s *CreditRequestService) Load(ctx context.Context, requestID string) (*models.CreditRequest, error) {
	var req models.CreditRequest
	err := s.db.WithContext(ensureContext(ctx)).
		Preload("Documents", orderDocuments).
		First(&req, "request_id = ?", strings.TrimSpace(requestID)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErrors.NotFound("request %s not found", requestID)
		}
		return nil, fmt.Errorf("credit request service: load request: %w", err)
	}
	return &req, nil
}

// FindByTxHash returns the request anchored by txHash.
func (s *CreditRequestService) FindByTxHash(ctx context.Context, txHash string) (*models.CreditRequest, error) {
	var req models.CreditRequest
	err := s.db.WithContext(ensureContext(ctx)).
		First(&req, "LOWER(chain_transaction_hash) = ?", strings.ToLower(strings.TrimSpace(txHash))).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErrors.NotFound("no request is anchored by transaction %s", txHash)
		}
		return nil, fmt.Errorf("credit request service: find by transaction: %w", err)
	}
	return &req, nil
}

// StaleAnchors lists requests still waiting on the ledger since before cutoff.
func (s *CreditRequestService) StaleAnchors(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []string
	err := s.db.WithContext(ensureContext(ctx)).
		Model(&models.CreditRequest{}).
		Where("status = ? AND chain_blockchain_status = ? AND updated_at < ?",
			models.StatusBlockchainPending, models.AnchorPending, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Pluck("request_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("credit request service: stale anchors: %w", err)
	}
	return ids, nil
}

// Commit persists a transition if the stored row still has the status and version
// the transition started from. The audit entry and follow-up writes share the
// transaction. A lost condition surfaces as INVALID_STATE.
func (s *CreditRequestService) Commit(ctx context.Context, t lifecycle.Transition, entry *AuditEntry, follow func(tx *gorm.DB, next models.CreditRequest) error) (*models.CreditRequest, error) {
	ctx = ensureContext(ctx)
	next := t.Next

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.CreditRequest{}).
			Where("request_id = ? AND status = ? AND version = ?", next.RequestID, t.From, t.Version).
			Updates(mutableRequestColumns(next))
		if result.Error != nil {
			return fmt.Errorf("credit request service: commit transition: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return errLostRace
		}

		if entry != nil {
			if err := s.audit.LogTx(tx, *entry); err != nil {
				return err
			}
		}
		if follow != nil {
			return follow(tx, next)
		}
		return nil
	})
	if errors.Is(err, errLostRace) {
		return nil, appErrors.InvalidState("request %s was changed by a concurrent decision", next.RequestID)
	}
	if err != nil {
		return nil, err
	}
	return s.Load(ctx, next.RequestID)
}

func mutableRequestColumns(r models.CreditRequest) map[string]any {
	chain := r.BlockchainData
	review := r.ReviewDetails
	credit := r.CreditDetails
	checks := r.ComplianceChecks
	return map[string]any{
		"status":     r.Status,
		"version":    r.Version,
		"updated_at": r.UpdatedAt,

		"chain_transaction_hash":  chain.TransactionHash,
		"chain_block_number":      chain.BlockNumber,
		"chain_gas_used":          chain.GasUsed,
		"chain_credit_id":         chain.CreditID,
		"chain_is_on_blockchain":  chain.IsOnBlockchain,
		"chain_blockchain_status": chain.BlockchainStatus,
		"chain_failure_reason":    chain.FailureReason,
		"chain_reverted":          chain.Reverted,
		"chain_attempts":          chain.Attempts,
		"chain_submitted_at":      chain.SubmittedAt,
		"chain_confirmed_at":      chain.ConfirmedAt,

		"review_reviewed_by":        review.ReviewedBy,
		"review_review_date":        review.ReviewDate,
		"review_review_notes":       review.ReviewNotes,
		"review_rejection_reason":   review.RejectionReason,
		"review_blockchain_tx_hash": review.BlockchainTxHash,

		"credit_credit_id":     credit.CreditID,
		"credit_credit_amount": credit.CreditAmount,
		"credit_issued_date":   credit.IssuedDate,

		"compliance_renewable_energy_verified":        checks.RenewableEnergyVerified,
		"compliance_electrolyzer_efficiency_verified": checks.ElectrolyzerEfficiencyVerified,
		"compliance_documentation_complete":           checks.DocumentationComplete,
		"compliance_regulatory_compliance":            checks.RegulatoryCompliance,
	}
}

func orderDocuments(db *gorm.DB) *gorm.DB {
	return db.Order("slot ASC, position ASC")
}

func canViewRequest(party models.Party, req models.CreditRequest) bool {
	switch party.Role {
	case models.RoleOperator:
		return true
	case models.RoleProducer:
		return req.ProducerID == party.ID
	case models.RoleCertifier:
		return req.CertifierID == party.ID
	}
	return false
}

func scopeRequests(query *gorm.DB, party models.Party) *gorm.DB {
	switch party.Role {
	case models.RoleOperator:
		return query
	case models.RoleProducer:
		return query.Where("producer_id = ?", party.ID)
	case models.RoleCertifier:
		return query.Where("certifier_id = ?", party.ID)
	}
	return query.Where("1 = 0")
}
