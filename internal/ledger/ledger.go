// Package ledger anchors approved credit requests on the external ledger and
// folds confirmations back into the request lifecycle.
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/charlesng35/hycredit/internal/fingerprint"
	"github.com/charlesng35/hycredit/internal/models"
	appErrors "github.com/charlesng35/hycredit/pkg/errors"
)

// Client talks to the ledger. Errors are LEDGER_TRANSIENT when a retry may
// succeed and LEDGER_PERMANENT otherwise.
type Client interface {
	// SubmitIssuance sends an issuance and returns its transaction hash.
	SubmitIssuance(ctx context.Context, payload IssuancePayload) (string, error)
	// Confirmation returns the outcome of a mined transaction, or nil while it is
	// still pending.
	Confirmation(ctx context.Context, txHash string) (*Confirmation, error)
}

// Confirmation is the ledger's report on an issuance transaction. A non-empty
// FailureReason means the transaction was mined but did not issue the credit.
type Confirmation struct {
	TxHash          string `json:"transactionHash"`
	BlockNumber     uint64 `json:"blockNumber"`
	GasUsed         uint64 `json:"gasUsed"`
	OnchainCreditID string `json:"creditId"`
	FailureReason   string `json:"failureReason,omitempty"`
}

// IssuancePayload is what gets anchored for an approved request.
type IssuancePayload struct {
	RequestID            string
	ProducerWallet       string
	CertifierAttestation fingerprint.Digest
	CreditAmount         decimal.Decimal
	MetadataHash         string
}

type attestation struct {
	RequestID    string    `json:"requestId"`
	CertifierID  string    `json:"certifierId"`
	CreditAmount string    `json:"creditAmount"`
	MetadataHash string    `json:"metadataHash"`
	ReviewDate   time.Time `json:"reviewDate"`
}

// NewIssuancePayload builds the payload for an approved request. The certifier
// attestation is the fingerprint of the approval decision.
func NewIssuancePayload(req models.CreditRequest, producer models.Party) (IssuancePayload, error) {
	if !req.CreditDetails.CreditAmount.Valid {
		return IssuancePayload{}, appErrors.InvalidState("request %s has no approved credit amount", req.RequestID)
	}
	wallet := strings.TrimSpace(producer.WalletAddress)
	if wallet == "" {
		return IssuancePayload{}, appErrors.ErrLedgerPermanent.WithMessage("producer %s has no wallet address", producer.ID)
	}

	var reviewed time.Time
	if req.ReviewDetails.ReviewDate != nil {
		reviewed = req.ReviewDetails.ReviewDate.UTC()
	}
	amount := req.CreditDetails.CreditAmount.Decimal
	digest, err := fingerprint.Object(attestation{
		RequestID:    req.RequestID,
		CertifierID:  req.CertifierID,
		CreditAmount: amount.String(),
		MetadataHash: req.MetadataHash,
		ReviewDate:   reviewed,
	})
	if err != nil {
		return IssuancePayload{}, err
	}

	return IssuancePayload{
		RequestID:            req.RequestID,
		ProducerWallet:       wallet,
		CertifierAttestation: digest,
		CreditAmount:         amount,
		MetadataHash:         req.MetadataHash,
	}, nil
}
