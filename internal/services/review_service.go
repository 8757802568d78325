package services

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/hycredit/internal/lifecycle"
	"github.com/charlesng35/hycredit/internal/models"
	"github.com/charlesng35/hycredit/internal/permissions"
	"github.com/charlesng35/hycredit/pkg/logger"
	"github.com/charlesng35/hycredit/pkg/metrics"
)

// LedgerDispatcher hands approved requests to ledger anchoring. Enqueue must not
// block; it reports false when the request could not be queued.
type LedgerDispatcher interface {
	Enqueue(requestID string) bool
}

// ApproveInput is a certifier's approval.
type ApproveInput struct {
	Notes            string
	ComplianceChecks models.ComplianceChecks
	CreditAmount     decimal.Decimal
}

// RejectInput is a certifier's rejection.
type RejectInput struct {
	Reason string
	Notes  string
}

// ReviewOption customises a ReviewService.
type ReviewOption func(*ReviewService)

// WithLedgerDispatcher enables ledger anchoring of approved requests.
func WithLedgerDispatcher(d LedgerDispatcher) ReviewOption {
	return func(s *ReviewService) {
		s.dispatcher = d
	}
}

// ReviewService records certifier decisions.
type ReviewService struct {
	requests   *CreditRequestService
	credits    *CreditLedgerService
	authz      Authorizer
	dispatcher LedgerDispatcher
	now        Clock
}

// NewReviewService constructs a ReviewService. Without a ledger dispatcher credits
// are issued as part of the approval.
func NewReviewService(requests *CreditRequestService, credits *CreditLedgerService, authz Authorizer, opts ...ReviewOption) (*ReviewService, error) {
	if requests == nil {
		return nil, errors.New("review service: request service is required")
	}
	if credits == nil {
		return nil, errors.New("review service: credit ledger service is required")
	}
	if authz == nil {
		return nil, errors.New("review service: authorizer is required")
	}

	svc := &ReviewService{requests: requests, credits: credits, authz: authz, now: systemClock}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Anchoring reports whether approvals are sent to the ledger.
func (s *ReviewService) Anchoring() bool {
	return s.dispatcher != nil
}

// Approve accepts a PENDING request assigned to the acting certifier.
func (s *ReviewService) Approve(ctx context.Context, actor permissions.Actor, requestID string, input ApproveInput) (*models.CreditRequest, error) {
	ctx = ensureContext(ctx)

	party, err := s.authz.Authorize(ctx, actor, permissions.OpApproveRequest)
	if err != nil {
		return nil, err
	}
	req, err := s.requests.Load(ctx, requestID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	creditID := lifecycle.NewCreditID(now)
	t, err := lifecycle.Approve(*req, party.ID, lifecycle.ApproveInput{
		Notes:            input.Notes,
		ComplianceChecks: input.ComplianceChecks,
		CreditAmount:     input.CreditAmount,
	}, creditID, s.Anchoring(), now)
	if err != nil {
		return nil, err
	}

	entry := &AuditEntry{
		Action:      ActionRequestApprove,
		ActorID:     party.ID,
		ActorRole:   party.Role,
		RequestID:   req.RequestID,
		CreditID:    creditID,
		ProducerID:  req.ProducerID,
		CertifierID: req.CertifierID,
		Result:      ResultSuccess,
		Metadata: map[string]any{
			"creditAmount": input.CreditAmount.String(),
			"status":       string(t.Next.Status),
		},
	}

	var follow func(tx *gorm.DB, next models.CreditRequest) error
	if !s.Anchoring() {
		follow = func(tx *gorm.DB, next models.CreditRequest) error {
			_, err := s.credits.IssueTx(tx, IssueInput{
				CreditID:      next.CreditDetails.CreditID,
				RequestID:     next.RequestID,
				LocalCreditID: next.CreditDetails.CreditID,
				ProducerID:    next.ProducerID,
				CertifierID:   next.CertifierID,
				MetadataHash:  next.MetadataHash,
				Amount:        input.CreditAmount,
				IssuedAt:      now,
			})
			return err
		}
	}

	updated, err := s.requests.Commit(ctx, t, entry, follow)
	if err != nil {
		return nil, err
	}
	metrics.ReviewDecisions.WithLabelValues("approve").Inc()

	log := logger.WithModule("review")
	log.Info("credit request approved",
		zap.String("request_id", updated.RequestID),
		zap.String("certifier_id", party.ID),
		zap.String("credit_id", creditID),
		zap.String("status", string(updated.Status)))

	if s.Anchoring() && !s.dispatcher.Enqueue(updated.RequestID) {
		log.Warn("ledger queue full; reconciliation will pick the request up",
			zap.String("request_id", updated.RequestID))
	}
	return updated, nil
}

// Reject declines a PENDING request assigned to the acting certifier.
func (s *ReviewService) Reject(ctx context.Context, actor permissions.Actor, requestID string, input RejectInput) (*models.CreditRequest, error) {
	ctx = ensureContext(ctx)

	party, err := s.authz.Authorize(ctx, actor, permissions.OpRejectRequest)
	if err != nil {
		return nil, err
	}
	req, err := s.requests.Load(ctx, requestID)
	if err != nil {
		return nil, err
	}

	t, err := lifecycle.Reject(*req, party.ID, input.Reason, input.Notes, s.now())
	if err != nil {
		return nil, err
	}

	updated, err := s.requests.Commit(ctx, t, &AuditEntry{
		Action:          ActionRequestReject,
		ActorID:         party.ID,
		ActorRole:       party.Role,
		RequestID:       req.RequestID,
		ProducerID:      req.ProducerID,
		CertifierID:     req.CertifierID,
		RejectionReason: t.Next.ReviewDetails.RejectionReason,
		Result:          ResultSuccess,
	}, nil)
	if err != nil {
		return nil, err
	}
	metrics.ReviewDecisions.WithLabelValues("reject").Inc()

	logger.WithModule("review").Info("credit request rejected",
		zap.String("request_id", updated.RequestID),
		zap.String("certifier_id", party.ID))
	return updated, nil
}
