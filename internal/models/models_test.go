package models

import (
	"errors"
	"testing"
)

func TestBaseModelBeforeCreateGeneratesID(t *testing.T) {
	var base BaseModel
	if err := base.BeforeCreate(nil); err != nil {
		t.Fatalf("before create: %v", err)
	}
	if base.ID == "" {
		t.Fatal("expected base model ID to be generated")
	}
}

func TestEmbeddedModelsUseBaseBeforeCreate(t *testing.T) {
	cases := []struct {
		name  string
		model func() *BaseModel
	}{
		{"request_document", func() *BaseModel {
			d := &RequestDocument{}
			return &d.BaseModel
		}},
		{"ownership_entry", func() *BaseModel {
			e := &OwnershipEntry{}
			return &e.BaseModel
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			model := tc.model()
			if err := model.BeforeCreate(nil); err != nil {
				t.Fatalf("before create: %v", err)
			}
			if model.ID == "" {
				t.Fatal("expected ID to be generated")
			}
		})
	}
}

func TestEnergySourceEnumeration(t *testing.T) {
	for _, source := range EnergySources {
		if !source.Valid() {
			t.Fatalf("expected %s to be valid", source)
		}
	}
	for _, source := range []EnergySource{"", "solar", "Coal"} {
		if source.Valid() {
			t.Fatalf("expected %q to be rejected", source)
		}
	}
}

func TestDocumentSlotSingleton(t *testing.T) {
	if !SlotElectrolyzerLogs.Singleton() {
		t.Fatal("expected electrolyzer logs to be a singleton slot")
	}
	if SlotCertificationDocs.Singleton() {
		t.Fatal("expected certification docs to append")
	}
	if DocumentSlot("invoices").Valid() {
		t.Fatal("expected unknown slot to be invalid")
	}
}

func TestBuildProofDocumentsGroupsBySlot(t *testing.T) {
	docs := []RequestDocument{
		{Slot: SlotCertificationDocs, Position: 2, FileName: "c.pdf"},
		{Slot: SlotPowerPurchaseAgreement, FileName: "ppa.pdf"},
		{Slot: SlotCertificationDocs, Position: 0, FileName: "a.pdf"},
		{Slot: SlotCertificationDocs, Position: 1, FileName: "b.pdf"},
	}

	proof := BuildProofDocuments(docs)
	if proof.PowerPurchaseAgreement == nil || proof.PowerPurchaseAgreement.FileName != "ppa.pdf" {
		t.Fatal("expected power purchase agreement to be filed")
	}
	if proof.RenewableSourceLogs != nil {
		t.Fatal("expected renewable source logs to be empty")
	}
	if len(proof.CertificationDocs) != 3 {
		t.Fatalf("expected 3 certification docs, got %d", len(proof.CertificationDocs))
	}
	for i, want := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		if proof.CertificationDocs[i].FileName != want {
			t.Fatalf("certification doc %d = %s, want %s", i, proof.CertificationDocs[i].FileName, want)
		}
	}
}

func TestTagsRoundTrip(t *testing.T) {
	req := CreditRequest{Tags: EncodeTags([]string{"green", "q1"})}
	tags := req.TagList()
	if len(tags) != 2 || tags[0] != "green" || tags[1] != "q1" {
		t.Fatalf("unexpected tags: %v", tags)
	}
	if EncodeTags(nil) != nil {
		t.Fatal("expected empty tag list to encode as nil")
	}
}

func TestAuditLogRefusesRewrites(t *testing.T) {
	entry := &AuditLog{}
	if err := entry.BeforeCreate(nil); err != nil || entry.ID == "" {
		t.Fatalf("expected id to be generated, err=%v", err)
	}
	if err := entry.BeforeUpdate(nil); !errors.Is(err, ErrAuditImmutable) {
		t.Fatalf("expected update to be refused, got %v", err)
	}
	if err := entry.BeforeDelete(nil); !errors.Is(err, ErrAuditImmutable) {
		t.Fatalf("expected delete to be refused, got %v", err)
	}
}
