package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hyperledger/firefly-common/pkg/retry"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/hycredit/internal/lifecycle"
	"github.com/charlesng35/hycredit/internal/models"
	"github.com/charlesng35/hycredit/internal/permissions"
	"github.com/charlesng35/hycredit/internal/services"
	appErrors "github.com/charlesng35/hycredit/pkg/errors"
	"github.com/charlesng35/hycredit/pkg/logger"
	"github.com/charlesng35/hycredit/pkg/metrics"
)

var errNotMined = errors.New("ledger: transaction not mined yet")

// RetryConfig bounds the backoff used for ledger calls.
type RetryConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
	MaxAttempts  int
}

// Config tunes the synchronizer.
type Config struct {
	Workers        int
	QueueSize      int
	RequestTimeout time.Duration
	Retry          RetryConfig
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.Retry.InitialDelay <= 0 {
		c.Retry.InitialDelay = 500 * time.Millisecond
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = 30 * time.Second
	}
	if c.Retry.Factor < 1 {
		c.Retry.Factor = 2
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 5
	}
	return c
}

// Synchronizer moves approved requests through ledger submission and
// confirmation on a bounded pool of workers.
type Synchronizer struct {
	client   Client
	requests *services.CreditRequestService
	credits  *services.CreditLedgerService
	parties  *services.PartyService
	authz    services.Authorizer
	cfg      Config
	retry    *retry.Retry
	now      func() time.Time
	log      *zap.Logger

	queue chan string

	mu      sync.Mutex
	pending map[string]struct{}

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewSynchronizer wires the synchronizer to its collaborators.
func NewSynchronizer(client Client, requests *services.CreditRequestService, credits *services.CreditLedgerService, parties *services.PartyService, authz services.Authorizer, cfg Config) (*Synchronizer, error) {
	switch {
	case client == nil:
		return nil, errors.New("ledger synchronizer: client is required")
	case requests == nil:
		return nil, errors.New("ledger synchronizer: request service is required")
	case credits == nil:
		return nil, errors.New("ledger synchronizer: credit ledger service is required")
	case parties == nil:
		return nil, errors.New("ledger synchronizer: party service is required")
	case authz == nil:
		return nil, errors.New("ledger synchronizer: authorizer is required")
	}

	cfg = cfg.withDefaults()
	return &Synchronizer{
		client:   client,
		requests: requests,
		credits:  credits,
		parties:  parties,
		authz:    authz,
		cfg:      cfg,
		retry: &retry.Retry{
			InitialDelay: cfg.Retry.InitialDelay,
			MaximumDelay: cfg.Retry.MaxDelay,
			Factor:       cfg.Retry.Factor,
		},
		now:     func() time.Time { return time.Now().UTC() },
		log:     logger.WithModule("ledger"),
		queue:   make(chan string, cfg.QueueSize),
		pending: make(map[string]struct{}),
	}, nil
}

// Start launches the workers. They run until Stop is called or ctx ends.
func (s *Synchronizer) Start(ctx context.Context) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(runCtx)
	}
	s.log.Info("ledger synchronizer started",
		zap.Int("workers", s.cfg.Workers),
		zap.Int("queue_size", s.cfg.QueueSize))
}

// Stop cancels in-flight work and waits for the workers to exit. Requests left
// BLOCKCHAIN_PENDING are picked up again by reconciliation.
func (s *Synchronizer) Stop() {
	s.lifecycleMu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.lifecycleMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.log.Info("ledger synchronizer stopped")
}

// Enqueue schedules a request for anchoring without blocking. It returns false
// when the queue is full.
func (s *Synchronizer) Enqueue(requestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, queued := s.pending[requestID]; queued {
		return true
	}
	select {
	case s.queue <- requestID:
		s.pending[requestID] = struct{}{}
		metrics.LedgerQueueDepth.Set(float64(len(s.queue)))
		return true
	default:
		s.log.Warn("ledger queue full", zap.String("request_id", requestID))
		return false
	}
}

// Backlog reports the queued request count and the queue capacity.
func (s *Synchronizer) Backlog() (queued, capacity int) {
	return len(s.queue), cap(s.queue)
}

func (s *Synchronizer) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case requestID := <-s.queue:
			metrics.LedgerQueueDepth.Set(float64(len(s.queue)))
			if err := s.Process(ctx, requestID); err != nil && ctx.Err() == nil {
				s.log.Error("ledger processing failed",
					zap.String("request_id", requestID),
					zap.Error(err))
			}
			s.mu.Lock()
			delete(s.pending, requestID)
			s.mu.Unlock()
		}
	}
}

// Process drives one request: submit if no transaction is recorded yet, then
// wait for its confirmation. Requests not awaiting the ledger are skipped.
func (s *Synchronizer) Process(ctx context.Context, requestID string) error {
	req, err := s.requests.Load(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != models.StatusBlockchainPending || req.BlockchainData.BlockchainStatus != models.AnchorPending {
		return nil
	}

	if req.BlockchainData.TransactionHash == "" {
		req, err = s.submit(ctx, req)
		if err != nil || req == nil {
			return err
		}
	}

	return s.awaitConfirmation(ctx, req)
}

func (s *Synchronizer) submit(ctx context.Context, req *models.CreditRequest) (*models.CreditRequest, error) {
	producer, err := s.parties.Get(ctx, req.ProducerID)
	if err != nil {
		return nil, err
	}
	payload, err := NewIssuancePayload(*req, *producer)
	if err != nil {
		return nil, s.fail(ctx, req.RequestID, err.Error(), 0)
	}

	var (
		txHash   string
		attempts int
	)
	err = s.retry.DoCustomLog(ctx, func(attempt int) (bool, error) {
		attempts = attempt
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()

		hash, err := s.client.SubmitIssuance(callCtx, payload)
		if err == nil {
			txHash = hash
			return false, nil
		}
		retryable := appErrors.IsTransient(err) && attempt < s.cfg.Retry.MaxAttempts
		s.log.Warn("ledger submission failed",
			zap.String("request_id", req.RequestID),
			zap.Int("attempt", attempt),
			zap.Bool("retrying", retryable),
			zap.Error(err))
		return retryable, err
	})
	if err != nil {
		metrics.LedgerSubmissions.WithLabelValues("failure").Inc()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, s.fail(ctx, req.RequestID, fmt.Sprintf("submission failed after %d attempts: %v", attempts, err), attempts)
	}
	metrics.LedgerSubmissions.WithLabelValues("success").Inc()

	t, err := lifecycle.RecordSubmission(*req, txHash, attempts, s.now())
	if errors.Is(err, lifecycle.ErrAlreadyApplied) {
		return req, nil
	}
	if err != nil {
		return nil, err
	}
	return s.requests.Commit(ctx, t, &services.AuditEntry{
		Action:          services.ActionLedgerSubmit,
		ActorID:         req.CertifierID,
		ActorRole:       models.RoleCertifier,
		RequestID:       req.RequestID,
		ProducerID:      req.ProducerID,
		CertifierID:     req.CertifierID,
		TransactionHash: txHash,
		Result:          services.ResultSuccess,
		Metadata:        map[string]any{"attempts": attempts},
	}, nil)
}

func (s *Synchronizer) awaitConfirmation(ctx context.Context, req *models.CreditRequest) error {
	txHash := req.BlockchainData.TransactionHash

	var (
		conf     *Confirmation
		attempts int
	)
	err := s.retry.DoCustomLog(ctx, func(attempt int) (bool, error) {
		attempts = attempt
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()

		c, err := s.client.Confirmation(callCtx, txHash)
		switch {
		case err != nil:
			retryable := appErrors.IsTransient(err) && attempt < s.cfg.Retry.MaxAttempts
			s.log.Warn("ledger receipt lookup failed",
				zap.String("request_id", req.RequestID),
				zap.String("tx_hash", txHash),
				zap.Int("attempt", attempt),
				zap.Bool("retrying", retryable),
				zap.Error(err))
			return retryable, err
		case c == nil:
			s.log.Debug("ledger transaction not mined yet",
				zap.String("request_id", req.RequestID),
				zap.String("tx_hash", txHash),
				zap.Int("attempt", attempt))
			return attempt < s.cfg.Retry.MaxAttempts, errNotMined
		}
		conf = c
		return false, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return s.fail(ctx, req.RequestID, fmt.Sprintf("transaction %s not confirmed after %d attempts: %v", txHash, attempts, err), req.BlockchainData.Attempts)
	}

	if conf.TxHash == "" {
		conf.TxHash = txHash
	}
	_, err = s.apply(ctx, *conf)
	return err
}

// ApplyConfirmation records a confirmation reported by an operator or a ledger
// watcher. Applying the same transaction twice returns the current request.
func (s *Synchronizer) ApplyConfirmation(ctx context.Context, actor permissions.Actor, conf Confirmation) (*models.CreditRequest, error) {
	if _, err := s.authz.Authorize(ctx, actor, permissions.OpConfirmLedger); err != nil {
		return nil, err
	}
	if conf.TxHash == "" {
		return nil, appErrors.Validation("transactionHash is required")
	}
	return s.apply(ctx, conf)
}

func (s *Synchronizer) apply(ctx context.Context, conf Confirmation) (*models.CreditRequest, error) {
	req, err := s.requests.FindByTxHash(ctx, conf.TxHash)
	if err != nil {
		return nil, err
	}

	if conf.FailureReason != "" {
		return s.revert(ctx, req, conf)
	}

	localCreditID := req.CreditDetails.CreditID
	t, err := lifecycle.Confirm(*req, lifecycle.Confirmation{
		TxHash:          conf.TxHash,
		BlockNumber:     conf.BlockNumber,
		GasUsed:         conf.GasUsed,
		OnchainCreditID: conf.OnchainCreditID,
	}, s.now())
	if errors.Is(err, lifecycle.ErrAlreadyApplied) {
		return req, nil
	}
	if err != nil {
		return nil, err
	}

	updated, err := s.requests.Commit(ctx, t, &services.AuditEntry{
		Action:          services.ActionLedgerConfirm,
		ActorID:         req.CertifierID,
		ActorRole:       models.RoleCertifier,
		RequestID:       req.RequestID,
		CreditID:        t.Next.CreditDetails.CreditID,
		ProducerID:      req.ProducerID,
		CertifierID:     req.CertifierID,
		TransactionHash: conf.TxHash,
		Result:          services.ResultSuccess,
		Metadata: map[string]any{
			"blockNumber": conf.BlockNumber,
			"gasUsed":     conf.GasUsed,
		},
	}, func(tx *gorm.DB, next models.CreditRequest) error {
		_, err := s.credits.IssueTx(tx, services.IssueInput{
			CreditID:        next.CreditDetails.CreditID,
			RequestID:       next.RequestID,
			LocalCreditID:   localCreditID,
			ProducerID:      next.ProducerID,
			CertifierID:     next.CertifierID,
			MetadataHash:    next.MetadataHash,
			TransactionHash: conf.TxHash,
			Amount:          next.CreditDetails.CreditAmount.Decimal,
			IssuedAt:        next.UpdatedAt,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.LedgerConfirmations.WithLabelValues("confirmed").Inc()
	s.log.Info("ledger issuance confirmed",
		zap.String("request_id", updated.RequestID),
		zap.String("tx_hash", conf.TxHash),
		zap.Uint64("block_number", conf.BlockNumber),
		zap.String("credit_id", updated.CreditDetails.CreditID))
	return updated, nil
}

func (s *Synchronizer) fail(ctx context.Context, requestID, reason string, attempts int) error {
	req, err := s.requests.Load(ctx, requestID)
	if err != nil {
		return err
	}
	t, err := lifecycle.Fail(*req, reason, attempts, s.now())
	if errors.Is(err, lifecycle.ErrAlreadyApplied) {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := s.requests.Commit(ctx, t, &services.AuditEntry{
		Action:          services.ActionLedgerFail,
		ActorID:         req.CertifierID,
		ActorRole:       models.RoleCertifier,
		RequestID:       req.RequestID,
		ProducerID:      req.ProducerID,
		CertifierID:     req.CertifierID,
		TransactionHash: req.BlockchainData.TransactionHash,
		Result:          services.ResultFailure,
		Metadata:        map[string]any{"reason": reason},
	}, nil); err != nil {
		return err
	}

	metrics.LedgerConfirmations.WithLabelValues("failed").Inc()
	s.log.Warn("ledger anchoring failed",
		zap.String("request_id", requestID),
		zap.String("reason", reason))
	return nil
}

func (s *Synchronizer) revert(ctx context.Context, req *models.CreditRequest, conf Confirmation) (*models.CreditRequest, error) {
	t, err := lifecycle.Revert(*req, lifecycle.Confirmation{
		TxHash:      conf.TxHash,
		BlockNumber: conf.BlockNumber,
		GasUsed:     conf.GasUsed,
	}, conf.FailureReason, s.now())
	if errors.Is(err, lifecycle.ErrAlreadyApplied) {
		return req, nil
	}
	if err != nil {
		return nil, err
	}

	updated, err := s.requests.Commit(ctx, t, &services.AuditEntry{
		Action:          services.ActionLedgerFail,
		ActorID:         req.CertifierID,
		ActorRole:       models.RoleCertifier,
		RequestID:       req.RequestID,
		ProducerID:      req.ProducerID,
		CertifierID:     req.CertifierID,
		TransactionHash: conf.TxHash,
		Result:          services.ResultFailure,
		Metadata: map[string]any{
			"reason":      conf.FailureReason,
			"blockNumber": conf.BlockNumber,
		},
	}, nil)
	if err != nil {
		return nil, err
	}

	metrics.LedgerConfirmations.WithLabelValues("reverted").Inc()
	s.log.Warn("ledger issuance reverted",
		zap.String("request_id", req.RequestID),
		zap.String("tx_hash", conf.TxHash),
		zap.Uint64("block_number", conf.BlockNumber),
		zap.String("reason", conf.FailureReason))
	return updated, nil
}

// Resubmit reopens a FAILED anchor and queues it again.
func (s *Synchronizer) Resubmit(ctx context.Context, actor permissions.Actor, requestID string) (*models.CreditRequest, error) {
	party, err := s.authz.Authorize(ctx, actor, permissions.OpResubmitLedger)
	if err != nil {
		return nil, err
	}
	req, err := s.requests.Load(ctx, requestID)
	if err != nil {
		return nil, err
	}

	t, err := lifecycle.Resubmit(*req, s.now())
	if err != nil {
		return nil, err
	}
	updated, err := s.requests.Commit(ctx, t, &services.AuditEntry{
		Action:          services.ActionLedgerResubmit,
		ActorID:         party.ID,
		ActorRole:       party.Role,
		RequestID:       req.RequestID,
		ProducerID:      req.ProducerID,
		CertifierID:     req.CertifierID,
		TransactionHash: req.BlockchainData.TransactionHash,
		Result:          services.ResultSuccess,
		Metadata:        map[string]any{"previousFailure": req.BlockchainData.FailureReason},
	}, nil)
	if err != nil {
		return nil, err
	}

	if !s.Enqueue(updated.RequestID) {
		s.log.Warn("resubmitted request left for reconciliation", zap.String("request_id", updated.RequestID))
	}
	return updated, nil
}

// Reconcile re-queues requests that have waited on the ledger since before cutoff.
func (s *Synchronizer) Reconcile(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := s.requests.StaleAnchors(ctx, cutoff, s.cfg.QueueSize)
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, id := range ids {
		if s.Enqueue(id) {
			queued++
		}
	}
	return queued, nil
}
