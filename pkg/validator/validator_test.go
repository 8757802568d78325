package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type periodPayload struct {
	Start string `json:"startDate" validate:"required"`
	End   string `json:"endDate" validate:"required"`
}

type testPayload struct {
	BatchID  string        `json:"batchId" validate:"required"`
	Produced float64       `json:"hydrogenProduced" validate:"gte=0"`
	Wallet   string        `json:"wallet" validate:"omitempty,eth_addr"`
	Period   periodPayload `json:"productionPeriod"`
}

func TestValidateStructSuccess(t *testing.T) {
	payload := testPayload{
		BatchID:  "BATCH-2024-001",
		Produced: 1000,
		Wallet:   "0x71C7656EC7ab88b098defB751B7401B5f6d8976F",
		Period:   periodPayload{Start: "2024-01-01", End: "2024-01-31"},
	}

	if err := ValidateStruct(payload); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStructReportsNestedFieldPaths(t *testing.T) {
	payload := testPayload{
		Produced: -1,
		Period:   periodPayload{Start: "2024-01-01"},
	}

	err := ValidateStruct(payload)
	if err == nil {
		t.Fatal("expected validation error")
	}

	vErrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(vErrs) != 3 {
		t.Fatalf("expected 3 validation errors, got %d", len(vErrs))
	}

	found := false
	for _, v := range vErrs {
		if v.Field == "productionPeriod.endDate" && v.Tag == "required" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected productionPeriod.endDate in %v", vErrs)
	}
}

func TestDecimalPositiveTag(t *testing.T) {
	type amount struct {
		Value decimal.Decimal `json:"amount" validate:"decimal_positive"`
		Raw   string          `json:"raw" validate:"omitempty,decimal_positive"`
	}

	if err := ValidateStruct(amount{Value: decimal.NewFromInt(1000), Raw: "0.5"}); err != nil {
		t.Fatalf("expected positive amounts to pass, got %v", err)
	}
	if err := ValidateStruct(amount{Value: decimal.Zero}); err == nil {
		t.Fatal("expected zero amount to fail")
	}
	if err := ValidateStruct(amount{Value: decimal.NewFromInt(1), Raw: "abc"}); err == nil {
		t.Fatal("expected malformed decimal string to fail")
	}
}

func TestRegisterValidation(t *testing.T) {
	err := RegisterValidation("hycredit", func(fl validator.FieldLevel) bool {
		return fl.Field().String() == "hycredit"
	})
	if err != nil {
		t.Fatalf("register validation: %v", err)
	}

	type custom struct {
		Value string `validate:"hycredit"`
	}

	if err := ValidateStruct(custom{Value: "hycredit"}); err != nil {
		t.Fatalf("expected validation to pass, got %v", err)
	}
	if err := ValidateStruct(custom{Value: "other"}); err == nil {
		t.Fatal("expected validation to fail for non-matching value")
	}
}
