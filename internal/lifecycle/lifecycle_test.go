package lifecycle

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/charlesng35/hycredit/internal/fingerprint"
	"github.com/charlesng35/hycredit/internal/models"
	appErrors "github.com/charlesng35/hycredit/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 2, 5, 10, 0, 0, 0, time.UTC)

func producer() models.Party {
	return models.Party{ID: "producer-1", Role: models.RoleProducer, IsActive: true}
}

func certifier() models.Party {
	return models.Party{ID: "certifier-1", Role: models.RoleCertifier, IsActive: true}
}

func validData() models.RequestData {
	return models.RequestData{
		BatchID:          "BATCH-2024-001",
		HydrogenProduced: 1000,
		EnergySource:     models.EnergySolar,
		ProductionPeriod: models.ProductionPeriod{
			StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		},
		PlantLocation: models.PlantLocation{Name: "North Plant", Latitude: 52.5, Longitude: 13.4, Country: "DE"},
	}
}

func pendingRequest(t *testing.T) models.CreditRequest {
	t.Helper()
	req, err := NewRequest(Draft{Producer: producer(), Certifier: certifier(), Data: validData()}, "REQ-1", testNow)
	require.NoError(t, err)
	return req
}

func approveInput() ApproveInput {
	return ApproveInput{
		Notes: "all good",
		ComplianceChecks: models.ComplianceChecks{
			RenewableEnergyVerified:        true,
			ElectrolyzerEfficiencyVerified: true,
			DocumentationComplete:          true,
			RegulatoryCompliance:           true,
		},
		CreditAmount: decimal.NewFromInt(1000),
	}
}

func TestNewRequestIDFormat(t *testing.T) {
	id := NewRequestID(testNow)
	require.Regexp(t, regexp.MustCompile(`^REQ-\d{13}-[0-9a-z]{9}$`), id)
	require.NotEqual(t, id, NewRequestID(testNow))
}

func TestNewRequestComputesMetadataHash(t *testing.T) {
	req := pendingRequest(t)

	require.Equal(t, models.StatusPending, req.Status)
	require.Equal(t, int64(1), req.Version)
	want, err := fingerprint.Object(req.RequestData)
	require.NoError(t, err)
	require.Equal(t, want.String(), req.MetadataHash)
}

func TestNewRequestTruncatesPeriodToMilliseconds(t *testing.T) {
	d := Draft{Producer: producer(), Certifier: certifier(), Data: validData()}
	d.Data.ProductionPeriod.StartDate = time.Date(2024, 1, 1, 8, 30, 0, 123456789, time.FixedZone("CET", 3600))
	req, err := NewRequest(d, "REQ-1", testNow)
	require.NoError(t, err)

	stored := time.Date(2024, 1, 1, 7, 30, 0, 123000000, time.UTC)
	require.True(t, req.RequestData.ProductionPeriod.StartDate.Equal(stored))

	// the hash recomputed from a millisecond column still matches
	reloaded := req.RequestData
	reloaded.ProductionPeriod.StartDate = stored
	want, err := fingerprint.Parse(req.MetadataHash)
	require.NoError(t, err)
	ok, err := fingerprint.Verify(reloaded, want)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestNewRequestValidation(t *testing.T) {
	cases := map[string]func(d *Draft){
		"missing batch":    func(d *Draft) { d.Data.BatchID = "  " },
		"negative kg":      func(d *Draft) { d.Data.HydrogenProduced = -1 },
		"unknown source":   func(d *Draft) { d.Data.EnergySource = "Coal" },
		"missing end date": func(d *Draft) { d.Data.ProductionPeriod.EndDate = time.Time{} },
		"inverted period": func(d *Draft) {
			d.Data.ProductionPeriod.StartDate, d.Data.ProductionPeriod.EndDate =
				d.Data.ProductionPeriod.EndDate, d.Data.ProductionPeriod.StartDate
		},
		"bad latitude":         func(d *Draft) { d.Data.PlantLocation.Latitude = 91 },
		"bad renewable share":  func(d *Draft) { d.Data.EnergySourceDetails.RenewablePercentage = 120 },
		"certifier not active": func(d *Draft) { d.Certifier.IsActive = false },
		"certifier is producer": func(d *Draft) {
			d.Certifier.Role = models.RoleProducer
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			d := Draft{Producer: producer(), Certifier: certifier(), Data: validData()}
			mutate(&d)
			_, err := NewRequest(d, "REQ-1", testNow)
			require.ErrorIs(t, err, appErrors.ErrValidation)
		})
	}

	d := Draft{Producer: certifier(), Certifier: certifier(), Data: validData()}
	_, err := NewRequest(d, "REQ-1", testNow)
	require.ErrorIs(t, err, appErrors.ErrAuthorization)
}

func TestApproveWithAnchoring(t *testing.T) {
	req := pendingRequest(t)

	tr, err := Approve(req, "certifier-1", approveInput(), "CRED-1", true, testNow)
	require.NoError(t, err)

	require.Equal(t, models.StatusPending, tr.From)
	require.Equal(t, int64(1), tr.Version)
	require.Equal(t, int64(2), tr.Next.Version)
	require.Equal(t, models.StatusBlockchainPending, tr.Next.Status)
	require.Equal(t, models.AnchorPending, tr.Next.BlockchainData.BlockchainStatus)
	require.True(t, tr.Next.CreditDetails.CreditAmount.Decimal.Equal(decimal.NewFromInt(1000)))
	require.Equal(t, "CRED-1", tr.Next.CreditDetails.CreditID)
	require.True(t, tr.Next.ComplianceChecks.RegulatoryCompliance)

	// input untouched
	require.Equal(t, models.StatusPending, req.Status)
	require.Empty(t, req.ReviewDetails.ReviewedBy)
}

func TestApproveWithoutAnchoring(t *testing.T) {
	tr, err := Approve(pendingRequest(t), "certifier-1", approveInput(), "CRED-1", false, testNow)
	require.NoError(t, err)
	require.Equal(t, models.StatusApproved, tr.Next.Status)
	require.Equal(t, models.AnchorNone, tr.Next.BlockchainData.BlockchainStatus)
}

func TestReviewPreconditions(t *testing.T) {
	req := pendingRequest(t)

	_, err := Approve(req, "certifier-2", approveInput(), "CRED-1", true, testNow)
	require.ErrorIs(t, err, appErrors.ErrAuthorization)

	in := approveInput()
	in.CreditAmount = decimal.Zero
	_, err = Approve(req, "certifier-1", in, "CRED-1", true, testNow)
	require.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = Reject(req, "certifier-1", " ", "", testNow)
	require.ErrorIs(t, err, appErrors.ErrValidation)

	rejected, err := Reject(req, "certifier-1", "missing PPA", "", testNow)
	require.NoError(t, err)
	require.Equal(t, models.StatusRejected, rejected.Next.Status)
	require.Equal(t, "missing PPA", rejected.Next.ReviewDetails.RejectionReason)

	_, err = Approve(rejected.Next, "certifier-1", approveInput(), "CRED-1", true, testNow)
	require.ErrorIs(t, err, appErrors.ErrInvalidState)

	approved, err := Approve(req, "certifier-1", approveInput(), "CRED-1", false, testNow)
	require.NoError(t, err)
	_, err = Reject(approved.Next, "certifier-1", "changed my mind", "", testNow)
	require.ErrorIs(t, err, appErrors.ErrInvalidState)
}

func anchoredRequest(t *testing.T) models.CreditRequest {
	t.Helper()
	tr, err := Approve(pendingRequest(t), "certifier-1", approveInput(), "CRED-1", true, testNow)
	require.NoError(t, err)
	sub, err := RecordSubmission(tr.Next, "0xabc", 1, testNow)
	require.NoError(t, err)
	return sub.Next
}

func TestRecordSubmission(t *testing.T) {
	req := anchoredRequest(t)
	require.Equal(t, "0xabc", req.BlockchainData.TransactionHash)
	require.Equal(t, "0xabc", req.ReviewDetails.BlockchainTxHash)
	require.Equal(t, models.StatusBlockchainPending, req.Status)

	_, err := RecordSubmission(req, "0xabc", 1, testNow)
	require.True(t, errors.Is(err, ErrAlreadyApplied))

	_, err = RecordSubmission(req, "0xdef", 1, testNow)
	require.ErrorIs(t, err, appErrors.ErrInvalidState)
}

func TestConfirmIsIdempotentByTxHash(t *testing.T) {
	req := anchoredRequest(t)
	c := Confirmation{TxHash: "0xABC", BlockNumber: 42, GasUsed: 21000, OnchainCreditID: "7"}

	tr, err := Confirm(req, c, testNow)
	require.NoError(t, err)
	require.Equal(t, models.StatusApproved, tr.Next.Status)
	require.Equal(t, models.AnchorConfirmed, tr.Next.BlockchainData.BlockchainStatus)
	require.True(t, tr.Next.BlockchainData.IsOnBlockchain)
	require.Equal(t, uint64(42), tr.Next.BlockchainData.BlockNumber)
	require.Equal(t, "7", tr.Next.CreditDetails.CreditID)

	_, err = Confirm(tr.Next, c, testNow.Add(time.Minute))
	require.ErrorIs(t, err, ErrAlreadyApplied)

	_, err = Confirm(tr.Next, Confirmation{TxHash: "0xother"}, testNow)
	require.ErrorIs(t, err, appErrors.ErrInvalidState)

	_, err = Approve(tr.Next, "certifier-1", approveInput(), "CRED-2", true, testNow)
	require.ErrorIs(t, err, appErrors.ErrInvalidState)
}

func TestConfirmRejectsForeignTransaction(t *testing.T) {
	_, err := Confirm(anchoredRequest(t), Confirmation{TxHash: "0xdef"}, testNow)
	require.ErrorIs(t, err, appErrors.ErrInvalidState)

	_, err = Confirm(pendingRequest(t), Confirmation{TxHash: "0xabc"}, testNow)
	require.ErrorIs(t, err, appErrors.ErrInvalidState)
}

func TestFailKeepsApprovalAndAllowsLateConfirmation(t *testing.T) {
	failed, err := Fail(anchoredRequest(t), "receipt timeout", 5, testNow)
	require.NoError(t, err)
	require.Equal(t, models.StatusApproved, failed.Next.Status)
	require.Equal(t, models.AnchorFailed, failed.Next.BlockchainData.BlockchainStatus)
	require.False(t, failed.Next.BlockchainData.IsOnBlockchain)
	require.Equal(t, 5, failed.Next.BlockchainData.Attempts)

	_, err = Fail(failed.Next, "again", 6, testNow)
	require.ErrorIs(t, err, ErrAlreadyApplied)

	late, err := Confirm(failed.Next, Confirmation{TxHash: "0xabc", BlockNumber: 9}, testNow)
	require.NoError(t, err)
	require.Equal(t, models.AnchorConfirmed, late.Next.BlockchainData.BlockchainStatus)
	require.Empty(t, late.Next.BlockchainData.FailureReason)
}

func TestResubmitAfterRevertStartsFresh(t *testing.T) {
	_, err := Resubmit(anchoredRequest(t), testNow)
	require.ErrorIs(t, err, appErrors.ErrInvalidState)

	reverted, err := Revert(anchoredRequest(t), Confirmation{TxHash: "0xABC", BlockNumber: 12, GasUsed: 30000}, "reverted", testNow)
	require.NoError(t, err)
	require.Equal(t, models.StatusApproved, reverted.Next.Status)
	require.Equal(t, models.AnchorFailed, reverted.Next.BlockchainData.BlockchainStatus)
	require.True(t, reverted.Next.BlockchainData.Reverted)
	require.Equal(t, uint64(12), reverted.Next.BlockchainData.BlockNumber)

	tr, err := Resubmit(reverted.Next, testNow)
	require.NoError(t, err)
	require.Equal(t, models.StatusBlockchainPending, tr.Next.Status)
	require.Equal(t, models.AnchorPending, tr.Next.BlockchainData.BlockchainStatus)
	require.Empty(t, tr.Next.BlockchainData.TransactionHash)
	require.False(t, tr.Next.BlockchainData.Reverted)
	require.Empty(t, tr.Next.ReviewDetails.BlockchainTxHash)
	require.Equal(t, "CRED-1", tr.Next.CreditDetails.CreditID)
}

func TestResubmitKeepsUnrevertedTransaction(t *testing.T) {
	failed, err := Fail(anchoredRequest(t), "receipt timeout", 5, testNow)
	require.NoError(t, err)

	tr, err := Resubmit(failed.Next, testNow)
	require.NoError(t, err)
	require.Equal(t, models.StatusBlockchainPending, tr.Next.Status)
	require.Equal(t, models.AnchorPending, tr.Next.BlockchainData.BlockchainStatus)
	require.Equal(t, "0xabc", tr.Next.BlockchainData.TransactionHash)
	require.Equal(t, "0xabc", tr.Next.ReviewDetails.BlockchainTxHash)
	require.Empty(t, tr.Next.BlockchainData.FailureReason)
	require.Equal(t, 5, tr.Next.BlockchainData.Attempts)

	// the same transaction can still confirm
	_, err = Confirm(tr.Next, Confirmation{TxHash: "0xabc", BlockNumber: 20}, testNow)
	require.NoError(t, err)
}

func TestRevertPreconditions(t *testing.T) {
	_, err := Revert(anchoredRequest(t), Confirmation{TxHash: "0xdef"}, "reverted", testNow)
	require.ErrorIs(t, err, appErrors.ErrInvalidState)

	_, err = Revert(anchoredRequest(t), Confirmation{}, "reverted", testNow)
	require.ErrorIs(t, err, appErrors.ErrValidation)

	// a timed-out anchor learns that its transaction reverted
	failed, err := Fail(anchoredRequest(t), "receipt timeout", 5, testNow)
	require.NoError(t, err)
	reverted, err := Revert(failed.Next, Confirmation{TxHash: "0xabc"}, "reverted", testNow)
	require.NoError(t, err)
	require.True(t, reverted.Next.BlockchainData.Reverted)

	_, err = Revert(reverted.Next, Confirmation{TxHash: "0xabc"}, "reverted", testNow)
	require.ErrorIs(t, err, ErrAlreadyApplied)

	confirmed, err := Confirm(anchoredRequest(t), Confirmation{TxHash: "0xabc"}, testNow)
	require.NoError(t, err)
	_, err = Revert(confirmed.Next, Confirmation{TxHash: "0xabc"}, "reverted", testNow)
	require.ErrorIs(t, err, appErrors.ErrInvalidState)
}
