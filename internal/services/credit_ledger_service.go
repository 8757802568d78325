package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/hycredit/internal/fingerprint"
	"github.com/charlesng35/hycredit/internal/models"
	"github.com/charlesng35/hycredit/internal/ownership"
	"github.com/charlesng35/hycredit/internal/permissions"
	appErrors "github.com/charlesng35/hycredit/pkg/errors"
	"github.com/charlesng35/hycredit/pkg/logger"
	"github.com/charlesng35/hycredit/pkg/metrics"
)

// maxCreditAttempts bounds how often a mutation is retried after losing a race.
const maxCreditAttempts = 3

// IssueInput describes a credit minted for an approved request.
type IssueInput struct {
	CreditID        string
	RequestID       string
	LocalCreditID   string
	ProducerID      string
	CertifierID     string
	MetadataHash    string
	TransactionHash string
	Amount          decimal.Decimal
	IssuedAt        time.Time
}

// TransferInput moves part or all of a credit's balance to another party.
type TransferInput struct {
	To     string
	Amount decimal.Decimal
}

// TransferResult reports the credit after a transfer and, for partial transfers,
// the shard created for the recipient.
type TransferResult struct {
	Credit *models.Credit        `json:"credit"`
	Shard  *models.Credit        `json:"shard,omitempty"`
	Entry  models.OwnershipEntry `json:"entry"`
}

// CreditListOptions controls pagination for credit listing.
type CreditListOptions struct {
	Page     int
	PageSize int
	Owner    string
	Status   models.CreditStatus
}

// CreditLedgerService keeps each credit's append-only ownership history and the
// projection cached on the credit row.
type CreditLedgerService struct {
	db    *gorm.DB
	authz Authorizer
	audit *AuditService
	now   Clock
}

// NewCreditLedgerService constructs a CreditLedgerService.
func NewCreditLedgerService(db *gorm.DB, authz Authorizer, audit *AuditService) (*CreditLedgerService, error) {
	if db == nil {
		return nil, errors.New("credit ledger service: db is required")
	}
	if authz == nil {
		return nil, errors.New("credit ledger service: authorizer is required")
	}
	if audit == nil {
		return nil, errors.New("credit ledger service: audit service is required")
	}
	return &CreditLedgerService{db: db, authz: authz, audit: audit, now: systemClock}, nil
}

// Issue mints a credit on its own transaction.
func (s *CreditLedgerService) Issue(ctx context.Context, input IssueInput) (*models.Credit, error) {
	var credit *models.Credit
	err := s.db.WithContext(ensureContext(ctx)).Transaction(func(tx *gorm.DB) error {
		var err error
		credit, err = s.IssueTx(tx, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	return credit, nil
}

// IssueTx mints a credit inside the caller's transaction. Each credit and each
// request is issued at most once: an identical replay returns the existing credit
// and a differing one is a CONFLICT.
func (s *CreditLedgerService) IssueTx(tx *gorm.DB, input IssueInput) (*models.Credit, error) {
	input.CreditID = strings.TrimSpace(input.CreditID)
	if input.CreditID == "" {
		return nil, appErrors.Validation("creditId is required")
	}
	if strings.TrimSpace(input.ProducerID) == "" {
		return nil, appErrors.Validation("producer is required")
	}
	if !input.Amount.IsPositive() {
		return nil, appErrors.Validation("credit amount must be greater than zero")
	}
	if input.IssuedAt.IsZero() {
		input.IssuedAt = s.now()
	}

	var existing models.Credit
	query := tx.Where("credit_id = ?", input.CreditID)
	if input.RequestID != "" {
		query = query.Or("request_id = ? AND parent_credit_id = ''", input.RequestID)
	}
	err := query.First(&existing).Error
	switch {
	case err == nil:
		if existing.CreditID == input.CreditID &&
			existing.RequestID == input.RequestID &&
			existing.ProducerID == input.ProducerID &&
			existing.IssuedAmount.Equal(input.Amount) {
			return &existing, nil
		}
		return nil, appErrors.ErrConflict.WithMessage("credit %s has already been issued with different data", existing.CreditID)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("credit ledger service: load credit: %w", err)
	}

	credit := models.Credit{
		CreditID:         input.CreditID,
		RequestID:        input.RequestID,
		LocalCreditID:    input.LocalCreditID,
		ProducerID:       input.ProducerID,
		CertifierID:      input.CertifierID,
		MetadataHash:     input.MetadataHash,
		BlockchainTxHash: input.TransactionHash,
		IssuedAmount:     input.Amount,
		CurrentOwner:     input.ProducerID,
		CurrentBalance:   input.Amount,
		Status:           models.CreditIssued,
		Version:          1,
		IssuedAt:         input.IssuedAt,
	}
	entry := models.OwnershipEntry{
		CreditID:        credit.CreditID,
		Sequence:        1,
		Type:            models.EntryIssue,
		Owner:           credit.ProducerID,
		Amount:          input.Amount,
		Delta:           input.Amount,
		TransactionHash: input.TransactionHash,
		Timestamp:       input.IssuedAt,
	}
	if entry.TransactionHash == "" {
		receipt, err := receiptHash(entry)
		if err != nil {
			return nil, err
		}
		entry.TransactionHash = receipt
	}

	if err := tx.Create(&credit).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, appErrors.ErrConflict.WithMessage("credit %s has already been issued", credit.CreditID)
		}
		return nil, fmt.Errorf("credit ledger service: create credit: %w", err)
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("credit ledger service: append issue entry: %w", err)
	}
	if err := s.audit.LogTx(tx, AuditEntry{
		Action:          ActionCreditIssue,
		ActorID:         credit.CertifierID,
		ActorRole:       models.RoleCertifier,
		RequestID:       credit.RequestID,
		CreditID:        credit.CreditID,
		ProducerID:      credit.ProducerID,
		CertifierID:     credit.CertifierID,
		TransactionHash: entry.TransactionHash,
		Result:          ResultSuccess,
		Metadata:        map[string]any{"amount": input.Amount.String()},
	}); err != nil {
		return nil, err
	}

	metrics.CreditOperations.WithLabelValues("issue").Inc()
	return &credit, nil
}

// Transfer moves amount from the acting owner to input.To. Moving the whole
// balance reassigns the credit; a partial move splits off a shard for the recipient.
func (s *CreditLedgerService) Transfer(ctx context.Context, actor permissions.Actor, creditID string, input TransferInput) (*TransferResult, error) {
	ctx = ensureContext(ctx)

	party, err := s.authz.Authorize(ctx, actor, permissions.OpTransferCredit)
	if err != nil {
		return nil, err
	}

	to := strings.TrimSpace(input.To)
	if to == "" {
		return nil, appErrors.Validation("recipient is required")
	}
	if to == party.ID {
		return nil, appErrors.Validation("cannot transfer a credit to its current owner")
	}
	if !input.Amount.IsPositive() {
		return nil, appErrors.Validation("transfer amount must be greater than zero")
	}

	var recipient models.Party
	if err := s.db.WithContext(ctx).First(&recipient, "id = ?", to).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErrors.NotFound("recipient %s not found", to)
		}
		return nil, fmt.Errorf("credit ledger service: load recipient: %w", err)
	}
	if !recipient.IsActive {
		return nil, appErrors.Validation("recipient %s is not active", to)
	}

	var result TransferResult
	err = s.mutate(ctx, creditID, func(tx *gorm.DB, credit *models.Credit, seq int64, now time.Time) (*models.OwnershipEntry, error) {
		if err := checkSpend(party, credit, input.Amount); err != nil {
			return nil, err
		}

		whole := input.Amount.Equal(credit.CurrentBalance)
		entry := models.OwnershipEntry{
			CreditID:     credit.CreditID,
			Sequence:     seq,
			Type:         models.EntryTransfer,
			Amount:       input.Amount,
			Counterparty: to,
			Timestamp:    now,
		}
		if whole {
			entry.Owner = to
			entry.Counterparty = party.ID
			entry.Delta = decimal.Zero
			credit.CurrentOwner = to
		} else {
			entry.Owner = party.ID
			entry.Delta = input.Amount.Neg()
			entry.ShardCreditID = fmt.Sprintf("%s.%d", credit.CreditID, seq)
			credit.CurrentBalance = credit.CurrentBalance.Sub(input.Amount)
		}
		credit.Status = models.CreditTransferred

		result.Shard = nil
		if !whole {
			shard, err := s.createShard(tx, credit, entry, party.ID, to, now)
			if err != nil {
				return nil, err
			}
			result.Shard = shard
		}
		return &entry, nil
	}, func(credit models.Credit, entry models.OwnershipEntry) AuditEntry {
		return AuditEntry{
			Action:          ActionCreditTransfer,
			ActorID:         party.ID,
			ActorRole:       party.Role,
			RequestID:       credit.RequestID,
			CreditID:        credit.CreditID,
			ProducerID:      credit.ProducerID,
			CertifierID:     credit.CertifierID,
			TransactionHash: entry.TransactionHash,
			Result:          ResultSuccess,
			Metadata: map[string]any{
				"to":     to,
				"amount": input.Amount.String(),
				"shard":  entry.ShardCreditID,
			},
		}
	}, &result.Credit, &result.Entry)
	if err != nil {
		return nil, err
	}

	metrics.CreditOperations.WithLabelValues("transfer").Inc()
	return &result, nil
}

func (s *CreditLedgerService) createShard(tx *gorm.DB, parent *models.Credit, parentEntry models.OwnershipEntry, from, to string, now time.Time) (*models.Credit, error) {
	shard := models.Credit{
		CreditID:         parentEntry.ShardCreditID,
		ParentCreditID:   parent.CreditID,
		RequestID:        parent.RequestID,
		LocalCreditID:    parent.LocalCreditID,
		ProducerID:       parent.ProducerID,
		CertifierID:      parent.CertifierID,
		MetadataHash:     parent.MetadataHash,
		BlockchainTxHash: parent.BlockchainTxHash,
		IssuedAmount:     parentEntry.Amount,
		CurrentOwner:     to,
		CurrentBalance:   parentEntry.Amount,
		Status:           models.CreditTransferred,
		Version:          1,
		IssuedAt:         now,
	}
	genesis := models.OwnershipEntry{
		CreditID:     shard.CreditID,
		Sequence:     1,
		Type:         models.EntryTransfer,
		Owner:        to,
		Counterparty: from,
		Amount:       parentEntry.Amount,
		Delta:        parentEntry.Amount,
		Timestamp:    now,
	}
	receipt, err := receiptHash(genesis)
	if err != nil {
		return nil, err
	}
	genesis.TransactionHash = receipt

	if err := tx.Create(&shard).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, errLostRace
		}
		return nil, fmt.Errorf("credit ledger service: create shard: %w", err)
	}
	if err := tx.Create(&genesis).Error; err != nil {
		return nil, fmt.Errorf("credit ledger service: append shard entry: %w", err)
	}
	return &shard, nil
}

// Retire permanently removes amount from the acting owner's balance. A credit
// whose balance reaches zero is RETIRED.
func (s *CreditLedgerService) Retire(ctx context.Context, actor permissions.Actor, creditID string, amount decimal.Decimal) (*models.Credit, error) {
	ctx = ensureContext(ctx)

	party, err := s.authz.Authorize(ctx, actor, permissions.OpRetireCredit)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, appErrors.Validation("retire amount must be greater than zero")
	}

	var (
		retired *models.Credit
		entry   models.OwnershipEntry
	)
	err = s.mutate(ctx, creditID, func(_ *gorm.DB, credit *models.Credit, seq int64, now time.Time) (*models.OwnershipEntry, error) {
		if err := checkSpend(party, credit, amount); err != nil {
			return nil, err
		}
		credit.CurrentBalance = credit.CurrentBalance.Sub(amount)
		if credit.CurrentBalance.IsZero() {
			credit.Status = models.CreditRetired
		}
		return &models.OwnershipEntry{
			CreditID:  credit.CreditID,
			Sequence:  seq,
			Type:      models.EntryRetire,
			Owner:     party.ID,
			Amount:    amount,
			Delta:     amount.Neg(),
			Timestamp: now,
		}, nil
	}, func(credit models.Credit, entry models.OwnershipEntry) AuditEntry {
		return AuditEntry{
			Action:          ActionCreditRetire,
			ActorID:         party.ID,
			ActorRole:       party.Role,
			RequestID:       credit.RequestID,
			CreditID:        credit.CreditID,
			ProducerID:      credit.ProducerID,
			CertifierID:     credit.CertifierID,
			TransactionHash: entry.TransactionHash,
			Result:          ResultSuccess,
			Metadata:        map[string]any{"amount": amount.String()},
		}
	}, &retired, &entry)
	if err != nil {
		return nil, err
	}

	metrics.CreditOperations.WithLabelValues("retire").Inc()
	return retired, nil
}

func checkSpend(party models.Party, credit *models.Credit, amount decimal.Decimal) error {
	if credit.CurrentOwner != party.ID {
		return appErrors.ErrNotOwner.WithMessage("credit %s is not owned by %s", credit.CreditID, party.ID)
	}
	if credit.Status == models.CreditRetired {
		return appErrors.InvalidState("credit %s is retired", credit.CreditID)
	}
	if amount.GreaterThan(credit.CurrentBalance) {
		return appErrors.ErrInsufficientBalance.WithMessage("credit %s holds %s, cannot move %s",
			credit.CreditID, credit.CurrentBalance.String(), amount.String())
	}
	return nil
}

type creditMutation func(tx *gorm.DB, credit *models.Credit, seq int64, now time.Time) (*models.OwnershipEntry, error)

// mutate runs one ownership change: it re-reads the credit and its history,
// applies change, appends the entry, checks the projection against a fresh fold
// and writes the projection guarded by the credit version. Lost races are retried.
func (s *CreditLedgerService) mutate(ctx context.Context, creditID string, change creditMutation, audit func(models.Credit, models.OwnershipEntry) AuditEntry, outCredit **models.Credit, outEntry *models.OwnershipEntry) error {
	creditID = strings.TrimSpace(creditID)
	log := logger.WithModule("credits")

	for attempt := 1; ; attempt++ {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var credit models.Credit
			if err := tx.First(&credit, "credit_id = ?", creditID).Error; err != nil {
				return notFound(err, "credit %s not found", creditID)
			}
			history, err := loadHistory(tx, creditID)
			if err != nil {
				return err
			}

			seq := int64(1)
			for _, e := range history {
				if e.Sequence >= seq {
					seq = e.Sequence + 1
				}
			}

			version := credit.Version
			now := s.now()
			entry, err := change(tx, &credit, seq, now)
			if err != nil {
				return err
			}
			receipt, err := receiptHash(*entry)
			if err != nil {
				return err
			}
			entry.TransactionHash = receipt

			projection, err := ownership.Fold(append(history, *entry))
			if err != nil {
				return fmt.Errorf("credit ledger service: replay %s: %w", creditID, err)
			}
			if !projection.Matches(credit) {
				return fmt.Errorf("credit ledger service: projection of %s diverges from its history", creditID)
			}

			if err := tx.Create(entry).Error; err != nil {
				if isUniqueConstraintError(err) {
					return errLostRace
				}
				return fmt.Errorf("credit ledger service: append entry: %w", err)
			}

			credit.Version = version + 1
			credit.UpdatedAt = now
			result := tx.Model(&models.Credit{}).
				Where("credit_id = ? AND version = ?", creditID, version).
				Updates(map[string]any{
					"current_owner":   credit.CurrentOwner,
					"current_balance": credit.CurrentBalance,
					"status":          credit.Status,
					"version":         credit.Version,
					"updated_at":      now,
				})
			if result.Error != nil {
				return fmt.Errorf("credit ledger service: update projection: %w", result.Error)
			}
			if result.RowsAffected == 0 {
				return errLostRace
			}

			if err := s.audit.LogTx(tx, audit(credit, *entry)); err != nil {
				return err
			}
			*outCredit = &credit
			*outEntry = *entry
			return nil
		})

		if !errors.Is(err, errLostRace) {
			return err
		}
		if attempt >= maxCreditAttempts {
			return appErrors.InvalidState("credit %s kept changing concurrently; retry later", creditID)
		}
		log.Debug("credit update lost a race, retrying",
			zap.String("credit_id", creditID),
			zap.Int("attempt", attempt))
	}
}

func loadHistory(tx *gorm.DB, creditID string) ([]models.OwnershipEntry, error) {
	var entries []models.OwnershipEntry
	if err := tx.Where("credit_id = ?", creditID).
		Order("timestamp ASC, sequence ASC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("credit ledger service: load history: %w", err)
	}
	return entries, nil
}

// receiptHash fingerprints the canonical form of an off-chain entry.
func receiptHash(e models.OwnershipEntry) (string, error) {
	digest, err := fingerprint.Object(map[string]any{
		"creditId":      e.CreditID,
		"sequence":      e.Sequence,
		"type":          e.Type,
		"owner":         e.Owner,
		"counterparty":  e.Counterparty,
		"amount":        e.Amount.String(),
		"delta":         e.Delta.String(),
		"shardCreditId": e.ShardCreditID,
		"timestamp":     e.Timestamp.UTC(),
	})
	if err != nil {
		return "", err
	}
	return digest.String(), nil
}

// Get returns a credit visible to actor.
func (s *CreditLedgerService) Get(ctx context.Context, actor permissions.Actor, creditID string) (*models.Credit, error) {
	ctx = ensureContext(ctx)

	party, err := s.authz.Authorize(ctx, actor, permissions.OpViewCredit)
	if err != nil {
		return nil, err
	}

	var credit models.Credit
	if err := s.db.WithContext(ctx).First(&credit, "credit_id = ?", strings.TrimSpace(creditID)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErrors.NotFound("credit %s not found", creditID)
		}
		return nil, fmt.Errorf("credit ledger service: get credit: %w", err)
	}
	if !canViewCredit(party, credit) {
		return nil, appErrors.ErrAuthorization.WithMessage("credit %s is not visible to party %s", creditID, party.ID)
	}
	return &credit, nil
}

// History returns the ordered ownership entries of a credit visible to actor.
func (s *CreditLedgerService) History(ctx context.Context, actor permissions.Actor, creditID string) ([]models.OwnershipEntry, error) {
	credit, err := s.Get(ctx, actor, creditID)
	if err != nil {
		return nil, err
	}
	entries, err := loadHistory(s.db.WithContext(ensureContext(ctx)), credit.CreditID)
	if err != nil {
		return nil, err
	}
	return ownership.Sort(entries), nil
}

// List returns credits visible to actor.
func (s *CreditLedgerService) List(ctx context.Context, actor permissions.Actor, opts CreditListOptions) ([]models.Credit, int64, error) {
	ctx = ensureContext(ctx)

	party, err := s.authz.Authorize(ctx, actor, permissions.OpViewCredit)
	if err != nil {
		return nil, 0, err
	}

	page, perPage := normalisePage(opts.Page, opts.PageSize)
	query := scopeCredits(s.db.WithContext(ctx).Model(&models.Credit{}), party)
	if opts.Owner != "" {
		query = query.Where("current_owner = ?", opts.Owner)
	}
	if opts.Status != "" {
		query = query.Where("status = ?", opts.Status)
	}

	var (
		credits []models.Credit
		total   int64
	)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("credit ledger service: count credits: %w", err)
	}
	if err := query.
		Order("issued_at DESC, credit_id ASC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&credits).Error; err != nil {
		return nil, 0, fmt.Errorf("credit ledger service: list credits: %w", err)
	}
	return credits, total, nil
}

// ListByOwner returns the credits currently held by owner.
func (s *CreditLedgerService) ListByOwner(ctx context.Context, actor permissions.Actor, owner string, page, pageSize int) ([]models.Credit, int64, error) {
	if strings.TrimSpace(owner) == "" {
		owner = actor.ID
	}
	return s.List(ctx, actor, CreditListOptions{Page: page, PageSize: pageSize, Owner: strings.TrimSpace(owner)})
}

func canViewCredit(party models.Party, credit models.Credit) bool {
	switch party.Role {
	case models.RoleOperator:
		return true
	case models.RoleCertifier:
		return credit.CertifierID == party.ID
	case models.RoleProducer:
		return credit.CurrentOwner == party.ID || credit.ProducerID == party.ID
	}
	return false
}

// DivergentProjections returns the ids of credits whose cached owner, balance
// or status no longer equals the fold of their history.
func (s *CreditLedgerService) DivergentProjections(ctx context.Context) ([]string, error) {
	db := s.db.WithContext(ensureContext(ctx))
	var (
		credits   []models.Credit
		divergent []string
	)
	result := db.Order("credit_id ASC").FindInBatches(&credits, 200, func(tx *gorm.DB, _ int) error {
		for _, credit := range credits {
			history, err := loadHistory(db, credit.CreditID)
			if err != nil {
				return err
			}
			projection, err := ownership.Fold(history)
			if err != nil || !projection.Matches(credit) {
				divergent = append(divergent, credit.CreditID)
			}
		}
		return nil
	})
	if result.Error != nil {
		return nil, fmt.Errorf("credit ledger service: verify projections: %w", result.Error)
	}
	return divergent, nil
}
