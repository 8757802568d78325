package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreditStatus tracks the lifecycle of an issued credit.
type CreditStatus string

const (
	CreditIssued      CreditStatus = "ISSUED"
	CreditTransferred CreditStatus = "TRANSFERRED"
	CreditRetired     CreditStatus = "RETIRED"
)

// Valid reports whether s is a known credit status.
func (s CreditStatus) Valid() bool {
	return s == CreditIssued || s == CreditTransferred || s == CreditRetired
}

// Credit is the cached projection of a credit's ownership history. CurrentOwner,
// CurrentBalance and Status always equal the fold of its OwnershipEntry rows.
type Credit struct {
	CreditID       string `gorm:"primaryKey;size:96" json:"creditId"`
	ParentCreditID string `gorm:"index;size:96" json:"parentCreditId,omitempty"`
	RequestID      string `gorm:"index;size:64" json:"requestId,omitempty"`
	LocalCreditID  string `gorm:"index;size:80" json:"localCreditId,omitempty"`

	ProducerID       string `gorm:"not null;index;size:64" json:"producerId"`
	CertifierID      string `gorm:"size:64" json:"certifierId,omitempty"`
	MetadataHash     string `gorm:"size:66" json:"metadataHash"`
	BlockchainTxHash string `gorm:"size:66" json:"blockchainTxHash,omitempty"`

	IssuedAmount   decimal.Decimal `gorm:"type:varchar(80);not null" json:"issuedAmount"`
	CurrentOwner   string          `gorm:"not null;index;size:64" json:"currentOwner"`
	CurrentBalance decimal.Decimal `gorm:"type:varchar(80);not null" json:"currentBalance"`
	Status         CreditStatus    `gorm:"not null;index;size:16" json:"status"`

	Version   int64     `gorm:"not null;default:1" json:"version"`
	IssuedAt  time.Time `json:"issuedAt"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// EntryType classifies ownership history entries.
type EntryType string

const (
	EntryIssue    EntryType = "ISSUE"
	EntryTransfer EntryType = "TRANSFER"
	EntryRetire   EntryType = "RETIRE"
)

// OwnershipEntry is one append-only event in a credit's history. Delta is the
// signed balance change applied to the credit the entry belongs to.
type OwnershipEntry struct {
	BaseModel

	CreditID        string          `gorm:"not null;size:96;uniqueIndex:idx_ownership_credit_seq,priority:1" json:"creditId"`
	Sequence        int64           `gorm:"not null;uniqueIndex:idx_ownership_credit_seq,priority:2" json:"sequence"`
	Type            EntryType       `gorm:"not null;size:16" json:"type"`
	Owner           string          `gorm:"not null;size:64;index" json:"owner"`
	Counterparty    string          `gorm:"size:64" json:"counterparty,omitempty"`
	Amount          decimal.Decimal `gorm:"type:varchar(80);not null" json:"amount"`
	Delta           decimal.Decimal `gorm:"type:varchar(80);not null" json:"delta"`
	TransactionHash string          `gorm:"size:66" json:"transactionHash"`
	ShardCreditID   string          `gorm:"size:96" json:"shardCreditId,omitempty"`
	Timestamp       time.Time       `gorm:"not null;index" json:"timestamp"`
}
