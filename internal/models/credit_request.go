package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// RequestStatus is the review axis of a credit request.
type RequestStatus string

const (
	StatusPending           RequestStatus = "PENDING"
	StatusApproved          RequestStatus = "APPROVED"
	StatusRejected          RequestStatus = "REJECTED"
	StatusBlockchainPending RequestStatus = "BLOCKCHAIN_PENDING"
)

// AnchorStatus is the ledger axis of a credit request, independent of RequestStatus.
type AnchorStatus string

const (
	AnchorNone      AnchorStatus = ""
	AnchorPending   AnchorStatus = "PENDING"
	AnchorConfirmed AnchorStatus = "CONFIRMED"
	AnchorFailed    AnchorStatus = "FAILED"
)

// EnergySource is the closed set of production energy categories.
type EnergySource string

const (
	EnergySolar      EnergySource = "Solar"
	EnergyWind       EnergySource = "Wind"
	EnergyHydro      EnergySource = "Hydro"
	EnergyGeothermal EnergySource = "Geothermal"
	EnergyBiomass    EnergySource = "Biomass"
	EnergyNuclear    EnergySource = "Nuclear"
	EnergyOther      EnergySource = "Other"
)

// Valid reports whether s is a known request status.
func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusBlockchainPending:
		return true
	}
	return false
}

// EnergySources lists every accepted energy category.
var EnergySources = []EnergySource{
	EnergySolar, EnergyWind, EnergyHydro, EnergyGeothermal, EnergyBiomass, EnergyNuclear, EnergyOther,
}

// Valid reports whether s is part of the closed enumeration.
func (s EnergySource) Valid() bool {
	for _, candidate := range EnergySources {
		if s == candidate {
			return true
		}
	}
	return false
}

type ProductionPeriod struct {
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
}

type PlantLocation struct {
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Country   string  `json:"country,omitempty"`
	State     string  `json:"state,omitempty"`
	City      string  `json:"city,omitempty"`
}

// EnergySourceDetails carries plant technical data: capacity in MW, efficiency and
// renewable share in percent.
type EnergySourceDetails struct {
	Capacity            float64 `json:"capacity,omitempty"`
	Efficiency          float64 `json:"efficiency,omitempty"`
	RenewablePercentage float64 `json:"renewablePercentage,omitempty"`
}

// RequestData is the producer's production claim. Its canonical JSON is what the
// metadata hash covers, so the json tags are part of the hashing contract.
type RequestData struct {
	BatchID             string              `gorm:"uniqueIndex;not null;size:128" json:"batchId"`
	HydrogenProduced    float64             `gorm:"not null" json:"hydrogenProduced"`
	EnergySource        EnergySource        `gorm:"not null;size:16" json:"energySource"`
	ProductionPeriod    ProductionPeriod    `gorm:"embedded;embeddedPrefix:period_" json:"productionPeriod"`
	PlantLocation       PlantLocation       `gorm:"embedded;embeddedPrefix:plant_" json:"plantLocation"`
	EnergySourceDetails EnergySourceDetails `gorm:"embedded;embeddedPrefix:source_" json:"energySourceDetails"`
}

type BlockchainData struct {
	TransactionHash  string       `gorm:"index;size:66" json:"transactionHash,omitempty"`
	BlockNumber      uint64       `json:"blockNumber,omitempty"`
	GasUsed          uint64       `json:"gasUsed,omitempty"`
	CreditID         string       `gorm:"size:80" json:"creditId,omitempty"`
	IsOnBlockchain   bool         `gorm:"default:false" json:"isOnBlockchain"`
	BlockchainStatus AnchorStatus `gorm:"size:16;index" json:"blockchainStatus,omitempty"`
	FailureReason    string       `json:"failureReason,omitempty"`
	// Reverted is set when the transaction was mined without issuing the credit.
	Reverted         bool         `gorm:"default:false" json:"reverted,omitempty"`
	Attempts         int          `gorm:"default:0" json:"attempts"`
	SubmittedAt      *time.Time   `json:"submittedAt,omitempty"`
	ConfirmedAt      *time.Time   `json:"confirmedAt,omitempty"`
}

type ReviewDetails struct {
	ReviewedBy       string     `gorm:"size:64" json:"reviewedBy,omitempty"`
	ReviewDate       *time.Time `json:"reviewDate,omitempty"`
	ReviewNotes      string     `json:"reviewNotes,omitempty"`
	RejectionReason  string     `json:"rejectionReason,omitempty"`
	BlockchainTxHash string     `gorm:"size:66" json:"blockchainTxHash,omitempty"`
}

type CreditDetails struct {
	CreditID     string              `gorm:"size:80;index" json:"creditId,omitempty"`
	CreditAmount decimal.NullDecimal `gorm:"type:varchar(80)" json:"creditAmount"`
	IssuedDate   *time.Time          `json:"issuedDate,omitempty"`
}

type ComplianceChecks struct {
	RenewableEnergyVerified        bool `gorm:"default:false" json:"renewableEnergyVerified"`
	ElectrolyzerEfficiencyVerified bool `gorm:"default:false" json:"electrolyzerEfficiencyVerified"`
	DocumentationComplete          bool `gorm:"default:false" json:"documentationComplete"`
	RegulatoryCompliance           bool `gorm:"default:false" json:"regulatoryCompliance"`
}

// CreditRequest is a producer's claim moving through review and ledger anchoring.
// Writes go through lifecycle transitions and a version-guarded update.
type CreditRequest struct {
	RequestID   string        `gorm:"primaryKey;size:64" json:"requestId"`
	ProducerID  string        `gorm:"not null;index;size:64" json:"producerId"`
	CertifierID string        `gorm:"not null;index;size:64" json:"certifierId"`
	Status      RequestStatus `gorm:"not null;index;size:24" json:"status"`

	RequestData      RequestData      `gorm:"embedded;embeddedPrefix:data_" json:"requestData"`
	MetadataHash     string           `gorm:"not null;size:66" json:"metadataHash"`
	BlockchainData   BlockchainData   `gorm:"embedded;embeddedPrefix:chain_" json:"blockchainData"`
	ReviewDetails    ReviewDetails    `gorm:"embedded;embeddedPrefix:review_" json:"reviewDetails"`
	CreditDetails    CreditDetails    `gorm:"embedded;embeddedPrefix:credit_" json:"creditDetails"`
	ComplianceChecks ComplianceChecks `gorm:"embedded;embeddedPrefix:compliance_" json:"complianceChecks"`

	Notes string         `json:"notes,omitempty"`
	Tags  datatypes.JSON `json:"tags,omitempty"`

	Documents []RequestDocument `gorm:"foreignKey:RequestID;references:RequestID" json:"-"`

	Version   int64     `gorm:"not null;default:1" json:"version"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`
	UpdatedAt time.Time `gorm:"index" json:"updatedAt"`
}

// TagList decodes the stored tag array.
func (r CreditRequest) TagList() []string {
	if len(r.Tags) == 0 {
		return nil
	}
	var tags []string
	if err := json.Unmarshal(r.Tags, &tags); err != nil {
		return nil
	}
	return tags
}

// EncodeTags renders a tag list for the Tags column.
func EncodeTags(tags []string) datatypes.JSON {
	if len(tags) == 0 {
		return nil
	}
	payload, err := json.Marshal(tags)
	if err != nil {
		return nil
	}
	return datatypes.JSON(payload)
}
