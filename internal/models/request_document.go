package models

import (
	"time"
)

// DocumentSlot names where an uploaded proof document is filed.
type DocumentSlot string

const (
	SlotRenewableSourceLogs    DocumentSlot = "renewableSourceLogs"
	SlotElectrolyzerLogs       DocumentSlot = "electrolyzerLogs"
	SlotPowerPurchaseAgreement DocumentSlot = "powerPurchaseAgreement"
	SlotCertificationDocs      DocumentSlot = "certificationDocs"
)

// DocumentSlots lists every accepted slot; the first three hold a single document.
var DocumentSlots = []DocumentSlot{
	SlotRenewableSourceLogs, SlotElectrolyzerLogs, SlotPowerPurchaseAgreement, SlotCertificationDocs,
}

// Valid reports whether s is a known slot.
func (s DocumentSlot) Valid() bool {
	for _, candidate := range DocumentSlots {
		if s == candidate {
			return true
		}
	}
	return false
}

// Singleton reports whether uploads to s replace the previous document.
func (s DocumentSlot) Singleton() bool {
	return s.Valid() && s != SlotCertificationDocs
}

// RequestDocument records a fingerprinted proof document. Only the digest and
// descriptive metadata are kept; the bytes live with the transport layer.
type RequestDocument struct {
	BaseModel

	RequestID    string       `gorm:"not null;size:64;uniqueIndex:idx_request_document_slot,priority:1" json:"requestId"`
	Slot         DocumentSlot `gorm:"not null;size:32;uniqueIndex:idx_request_document_slot,priority:2" json:"slot"`
	Position     int          `gorm:"not null;default:0;uniqueIndex:idx_request_document_slot,priority:3" json:"position"`
	Fingerprint  string       `gorm:"not null;size:66" json:"hash"`
	FileName     string       `json:"fileName"`
	MediaType    string       `json:"mimeType,omitempty"`
	DocumentType string       `json:"documentType,omitempty"`
	Size         int64        `json:"size"`
	UploadedAt   time.Time    `json:"uploadDate"`
}

// ProofDocuments is the slot-keyed view of a request's documents.
type ProofDocuments struct {
	RenewableSourceLogs    *RequestDocument  `json:"renewableSourceLogs,omitempty"`
	ElectrolyzerLogs       *RequestDocument  `json:"electrolyzerLogs,omitempty"`
	PowerPurchaseAgreement *RequestDocument  `json:"powerPurchaseAgreement,omitempty"`
	CertificationDocs      []RequestDocument `json:"certificationDocs"`
}

// BuildProofDocuments groups documents by slot; certification docs keep position order.
func BuildProofDocuments(docs []RequestDocument) ProofDocuments {
	proof := ProofDocuments{CertificationDocs: []RequestDocument{}}
	for i := range docs {
		doc := docs[i]
		switch doc.Slot {
		case SlotRenewableSourceLogs:
			proof.RenewableSourceLogs = &doc
		case SlotElectrolyzerLogs:
			proof.ElectrolyzerLogs = &doc
		case SlotPowerPurchaseAgreement:
			proof.PowerPurchaseAgreement = &doc
		case SlotCertificationDocs:
			proof.CertificationDocs = append(proof.CertificationDocs, doc)
		}
	}
	certs := proof.CertificationDocs
	for i := 1; i < len(certs); i++ {
		for j := i; j > 0 && certs[j].Position < certs[j-1].Position; j-- {
			certs[j], certs[j-1] = certs[j-1], certs[j]
		}
	}
	return proof
}
