// Package lifecycle holds the credit request state machine.
//
// Transitions are pure: they take a request value, validate the move, and return
// the next value together with the status and version the stored row must still
// have for the write to apply. The caller persists Next with a conditional update
// and treats a lost condition as a concurrent decision.
package lifecycle

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/charlesng35/hycredit/internal/fingerprint"
	"github.com/charlesng35/hycredit/internal/models"
	appErrors "github.com/charlesng35/hycredit/pkg/errors"
	"github.com/shopspring/decimal"
)

// ErrAlreadyApplied marks a ledger update that has already been recorded.
var ErrAlreadyApplied = errors.New("lifecycle: ledger update already applied")

// Transition is the outcome of a state change.
type Transition struct {
	From    models.RequestStatus
	Version int64
	Next    models.CreditRequest
}

// Draft carries everything needed to open a request.
type Draft struct {
	Producer  models.Party
	Certifier models.Party
	Data      models.RequestData
	Notes     string
	Tags      []string
}

// ApproveInput is the certifier's approval decision.
type ApproveInput struct {
	Notes            string
	ComplianceChecks models.ComplianceChecks
	CreditAmount     decimal.Decimal
}

// Confirmation is ledger evidence that an issuance transaction was mined.
type Confirmation struct {
	TxHash          string
	BlockNumber     uint64
	GasUsed         uint64
	OnchainCreditID string
}

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewRequestID returns an identifier of the form REQ-<unix-ms>-<9 base36 chars>.
func NewRequestID(now time.Time) string {
	return fmt.Sprintf("REQ-%d-%s", now.UnixMilli(), randomSuffix(9))
}

// NewCreditID returns the server-side credit identifier assigned at approval.
func NewCreditID(now time.Time) string {
	return fmt.Sprintf("HC-%d-%s", now.UnixMilli(), randomSuffix(9))
}

func randomSuffix(n int) string {
	suffix := make([]byte, n)
	max := big.NewInt(int64(len(idAlphabet)))
	for i := range suffix {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(fmt.Sprintf("lifecycle: read random: %v", err))
		}
		suffix[i] = idAlphabet[v.Int64()]
	}
	return string(suffix)
}

// NewRequest validates a draft and builds the PENDING request, including its
// metadata hash. Nothing is hashed when validation fails.
func NewRequest(d Draft, requestID string, now time.Time) (models.CreditRequest, error) {
	if d.Producer.Role != models.RoleProducer {
		return models.CreditRequest{}, appErrors.ErrAuthorization.WithMessage("only producers can submit credit requests")
	}
	if d.Certifier.Role != models.RoleCertifier || !d.Certifier.IsActive {
		return models.CreditRequest{}, appErrors.Validation("certifier %s lacks certification capability", d.Certifier.ID)
	}

	data := normaliseData(d.Data)
	if err := ValidateData(data); err != nil {
		return models.CreditRequest{}, err
	}

	digest, err := fingerprint.Object(data)
	if err != nil {
		return models.CreditRequest{}, err
	}

	return models.CreditRequest{
		RequestID:    requestID,
		ProducerID:   d.Producer.ID,
		CertifierID:  d.Certifier.ID,
		Status:       models.StatusPending,
		RequestData:  data,
		MetadataHash: digest.String(),
		Notes:        strings.TrimSpace(d.Notes),
		Tags:         models.EncodeTags(d.Tags),
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func normaliseData(data models.RequestData) models.RequestData {
	data.BatchID = strings.TrimSpace(data.BatchID)
	// Millisecond precision survives every supported database column type.
	data.ProductionPeriod.StartDate = data.ProductionPeriod.StartDate.UTC().Truncate(time.Millisecond)
	data.ProductionPeriod.EndDate = data.ProductionPeriod.EndDate.UTC().Truncate(time.Millisecond)
	return data
}

// ValidateData checks the field contract of a production claim.
func ValidateData(data models.RequestData) error {
	switch {
	case data.BatchID == "":
		return appErrors.Validation("batchId is required")
	case math.IsNaN(data.HydrogenProduced) || math.IsInf(data.HydrogenProduced, 0):
		return appErrors.Validation("hydrogenProduced must be a finite number")
	case data.HydrogenProduced < 0:
		return appErrors.Validation("hydrogenProduced must not be negative")
	case !data.EnergySource.Valid():
		return appErrors.Validation("energySource %q is not one of Solar, Wind, Hydro, Geothermal, Biomass, Nuclear, Other", data.EnergySource)
	case data.ProductionPeriod.StartDate.IsZero():
		return appErrors.Validation("productionPeriod.startDate is required")
	case data.ProductionPeriod.EndDate.IsZero():
		return appErrors.Validation("productionPeriod.endDate is required")
	case data.ProductionPeriod.StartDate.After(data.ProductionPeriod.EndDate):
		return appErrors.Validation("productionPeriod.startDate must not be after endDate")
	}

	loc := data.PlantLocation
	if loc.Latitude < -90 || loc.Latitude > 90 {
		return appErrors.Validation("plantLocation.latitude must be between -90 and 90")
	}
	if loc.Longitude < -180 || loc.Longitude > 180 {
		return appErrors.Validation("plantLocation.longitude must be between -180 and 180")
	}

	details := data.EnergySourceDetails
	if details.Capacity < 0 {
		return appErrors.Validation("energySourceDetails.capacity must not be negative")
	}
	for name, pct := range map[string]float64{
		"efficiency":          details.Efficiency,
		"renewablePercentage": details.RenewablePercentage,
	} {
		if pct < 0 || pct > 100 {
			return appErrors.Validation("energySourceDetails.%s must be between 0 and 100", name)
		}
	}
	return nil
}

func begin(req models.CreditRequest, now time.Time) Transition {
	next := req
	next.Version = req.Version + 1
	next.UpdatedAt = now
	return Transition{From: req.Status, Version: req.Version, Next: next}
}

func requireReviewer(req models.CreditRequest, reviewerID string) error {
	if reviewerID == "" || reviewerID != req.CertifierID {
		return appErrors.ErrAuthorization.WithMessage("only the designated certifier can review request %s", req.RequestID)
	}
	if req.Status != models.StatusPending {
		return appErrors.InvalidState("request %s is %s and can no longer be reviewed", req.RequestID, req.Status)
	}
	return nil
}

// Approve records the certifier's approval. With anchoring enabled the request
// moves straight on to BLOCKCHAIN_PENDING.
func Approve(req models.CreditRequest, reviewerID string, in ApproveInput, creditID string, anchoring bool, now time.Time) (Transition, error) {
	if err := requireReviewer(req, reviewerID); err != nil {
		return Transition{}, err
	}
	if !in.CreditAmount.IsPositive() {
		return Transition{}, appErrors.Validation("creditAmount must be greater than zero")
	}
	if creditID == "" {
		return Transition{}, appErrors.Validation("creditId is required")
	}

	t := begin(req, now)
	reviewed := now
	t.Next.ReviewDetails = models.ReviewDetails{
		ReviewedBy:  reviewerID,
		ReviewDate:  &reviewed,
		ReviewNotes: strings.TrimSpace(in.Notes),
	}
	t.Next.ComplianceChecks = in.ComplianceChecks
	t.Next.CreditDetails = models.CreditDetails{
		CreditID:     creditID,
		CreditAmount: decimal.NewNullDecimal(in.CreditAmount),
		IssuedDate:   &reviewed,
	}
	t.Next.Status = models.StatusApproved
	if anchoring {
		t.Next.Status = models.StatusBlockchainPending
		t.Next.BlockchainData = models.BlockchainData{BlockchainStatus: models.AnchorPending}
	}
	return t, nil
}

// Reject records the certifier's rejection. A reason is mandatory.
func Reject(req models.CreditRequest, reviewerID, reason, notes string, now time.Time) (Transition, error) {
	if err := requireReviewer(req, reviewerID); err != nil {
		return Transition{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Transition{}, appErrors.Validation("rejectionReason is required")
	}

	t := begin(req, now)
	reviewed := now
	t.Next.ReviewDetails = models.ReviewDetails{
		ReviewedBy:      reviewerID,
		ReviewDate:      &reviewed,
		ReviewNotes:     strings.TrimSpace(notes),
		RejectionReason: reason,
	}
	t.Next.Status = models.StatusRejected
	return t, nil
}

func awaitingAnchor(req models.CreditRequest) bool {
	return req.Status == models.StatusBlockchainPending &&
		req.BlockchainData.BlockchainStatus == models.AnchorPending
}

// RecordSubmission stores the transaction hash returned by the ledger.
func RecordSubmission(req models.CreditRequest, txHash string, attempts int, now time.Time) (Transition, error) {
	if txHash == "" {
		return Transition{}, appErrors.Validation("transaction hash is required")
	}
	if !awaitingAnchor(req) {
		return Transition{}, appErrors.InvalidState("request %s is not awaiting ledger submission", req.RequestID)
	}
	switch existing := req.BlockchainData.TransactionHash; {
	case existing == txHash:
		return Transition{}, ErrAlreadyApplied
	case existing != "":
		return Transition{}, appErrors.InvalidState("request %s already has transaction %s", req.RequestID, existing)
	}

	t := begin(req, now)
	submitted := now
	t.Next.BlockchainData.TransactionHash = txHash
	t.Next.BlockchainData.Attempts = attempts
	t.Next.BlockchainData.SubmittedAt = &submitted
	t.Next.ReviewDetails.BlockchainTxHash = txHash
	return t, nil
}

// Confirm applies ledger confirmation. A FAILED anchor is still confirmable when
// the ledger reports the same transaction, since the ledger is authoritative.
func Confirm(req models.CreditRequest, c Confirmation, now time.Time) (Transition, error) {
	if c.TxHash == "" {
		return Transition{}, appErrors.Validation("transaction hash is required")
	}

	chain := req.BlockchainData
	switch {
	case chain.BlockchainStatus == models.AnchorConfirmed:
		if strings.EqualFold(chain.TransactionHash, c.TxHash) {
			return Transition{}, ErrAlreadyApplied
		}
		return Transition{}, appErrors.InvalidState("request %s is already confirmed by %s", req.RequestID, chain.TransactionHash)
	case awaitingAnchor(req), req.Status == models.StatusApproved && chain.BlockchainStatus == models.AnchorFailed:
		if chain.TransactionHash == "" || !strings.EqualFold(chain.TransactionHash, c.TxHash) {
			return Transition{}, appErrors.InvalidState("transaction %s does not belong to request %s", c.TxHash, req.RequestID)
		}
	default:
		return Transition{}, appErrors.InvalidState("request %s is %s and has no outstanding ledger anchor", req.RequestID, req.Status)
	}

	t := begin(req, now)
	confirmed := now
	t.Next.Status = models.StatusApproved
	t.Next.BlockchainData.BlockchainStatus = models.AnchorConfirmed
	t.Next.BlockchainData.IsOnBlockchain = true
	t.Next.BlockchainData.BlockNumber = c.BlockNumber
	t.Next.BlockchainData.GasUsed = c.GasUsed
	t.Next.BlockchainData.CreditID = c.OnchainCreditID
	t.Next.BlockchainData.FailureReason = ""
	t.Next.BlockchainData.ConfirmedAt = &confirmed
	if c.OnchainCreditID != "" {
		t.Next.CreditDetails.CreditID = c.OnchainCreditID
	}
	return t, nil
}

// Fail marks the anchor FAILED. The review decision stays APPROVED.
func Fail(req models.CreditRequest, reason string, attempts int, now time.Time) (Transition, error) {
	if !awaitingAnchor(req) {
		if req.BlockchainData.BlockchainStatus == models.AnchorFailed {
			return Transition{}, ErrAlreadyApplied
		}
		return Transition{}, appErrors.InvalidState("request %s has no outstanding ledger anchor", req.RequestID)
	}

	t := begin(req, now)
	t.Next.Status = models.StatusApproved
	t.Next.BlockchainData.BlockchainStatus = models.AnchorFailed
	t.Next.BlockchainData.IsOnBlockchain = false
	t.Next.BlockchainData.FailureReason = strings.TrimSpace(reason)
	if attempts > t.Next.BlockchainData.Attempts {
		t.Next.BlockchainData.Attempts = attempts
	}
	return t, nil
}

// Revert records that txHash was mined but did not issue the credit. It also
// applies to an anchor already FAILED by a confirmation timeout.
func Revert(req models.CreditRequest, c Confirmation, reason string, now time.Time) (Transition, error) {
	if c.TxHash == "" {
		return Transition{}, appErrors.Validation("transaction hash is required")
	}

	chain := req.BlockchainData
	if chain.TransactionHash == "" || !strings.EqualFold(chain.TransactionHash, c.TxHash) {
		return Transition{}, appErrors.InvalidState("transaction %s does not belong to request %s", c.TxHash, req.RequestID)
	}
	switch {
	case chain.BlockchainStatus == models.AnchorFailed && chain.Reverted:
		return Transition{}, ErrAlreadyApplied
	case awaitingAnchor(req), req.Status == models.StatusApproved && chain.BlockchainStatus == models.AnchorFailed:
	default:
		return Transition{}, appErrors.InvalidState("request %s is %s and has no outstanding ledger anchor", req.RequestID, req.Status)
	}

	t := begin(req, now)
	t.Next.Status = models.StatusApproved
	t.Next.BlockchainData.BlockchainStatus = models.AnchorFailed
	t.Next.BlockchainData.IsOnBlockchain = false
	t.Next.BlockchainData.Reverted = true
	t.Next.BlockchainData.BlockNumber = c.BlockNumber
	t.Next.BlockchainData.GasUsed = c.GasUsed
	t.Next.BlockchainData.FailureReason = strings.TrimSpace(reason)
	return t, nil
}

// Resubmit reopens a FAILED anchor for another submission round. A broadcast
// transaction that has not reverted keeps its hash and is polled again.
func Resubmit(req models.CreditRequest, now time.Time) (Transition, error) {
	if req.Status != models.StatusApproved || req.BlockchainData.BlockchainStatus != models.AnchorFailed {
		return Transition{}, appErrors.InvalidState("request %s has no failed ledger anchor to resubmit", req.RequestID)
	}

	t := begin(req, now)
	t.Next.Status = models.StatusBlockchainPending
	if req.BlockchainData.TransactionHash != "" && !req.BlockchainData.Reverted {
		t.Next.BlockchainData.BlockchainStatus = models.AnchorPending
		t.Next.BlockchainData.FailureReason = ""
		return t, nil
	}
	t.Next.BlockchainData = models.BlockchainData{BlockchainStatus: models.AnchorPending}
	t.Next.ReviewDetails.BlockchainTxHash = ""
	return t, nil
}
