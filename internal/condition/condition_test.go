package condition

import (
	"testing"

	"github.com/formbridge/formbridge/model"
)

func TestEvaluate(t *testing.T) {
	fields := map[string]any{
		"country": "DE",
		"size":    "large",
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"empty expression", "", true},
		{"equals match", "country == 'DE'", true},
		{"equals mismatch", "country == 'US'", false},
		{"not equals match", "country != 'US'", true},
		{"not equals mismatch", "country != 'DE'", false},
		{"double quotes", `size == "large"`, true},
		{"missing field equals", "missing == 'x'", false},
		{"missing field not equals", "missing != 'x'", true},
		{"whitespace tolerated", "  country  ==  'DE'  ", true},
		{"unparseable is true", "country >>> banana", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.expr, fields); got != tt.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluateNonStringValues(t *testing.T) {
	fields := map[string]any{"count": 3, "agreed": true}

	if !Evaluate("count == '3'", fields) {
		t.Error("numeric value should compare via its string form")
	}
	if !Evaluate("agreed == 'true'", fields) {
		t.Error("boolean value should compare via its string form")
	}
}

func TestRefs(t *testing.T) {
	if refs := Refs("country == 'DE'"); len(refs) != 1 || refs[0] != "country" {
		t.Errorf("Refs = %v, want [country]", refs)
	}
	if refs := Refs("country != 'DE'"); len(refs) != 1 || refs[0] != "country" {
		t.Errorf("Refs = %v, want [country]", refs)
	}
	if refs := Refs(""); refs != nil {
		t.Errorf("Refs of empty expression = %v, want nil", refs)
	}
}

func TestEvaluateFieldHiddenNeverRequired(t *testing.T) {
	def := model.FieldDefinition{
		Path:        "vat_id",
		Type:        model.FieldTypeString,
		Required:    true,
		VisibleWhen: "country == 'DE'",
	}

	st := EvaluateField(def, map[string]any{"country": "US"})
	if st.Visible || st.Required || st.ValidationEnabled {
		t.Errorf("hidden field state = %+v, want all false", st)
	}

	st = EvaluateField(def, map[string]any{"country": "DE"})
	if !st.Visible || !st.Required || !st.ValidationEnabled {
		t.Errorf("visible field state = %+v, want all true", st)
	}
}

func TestEvaluateFieldRequiredWhen(t *testing.T) {
	def := model.FieldDefinition{
		Path:         "reason",
		Type:         model.FieldTypeString,
		RequiredWhen: "status == 'rejected'",
	}

	if st := EvaluateField(def, map[string]any{"status": "rejected"}); !st.Required {
		t.Error("requiredWhen satisfied, field should be required")
	}
	if st := EvaluateField(def, map[string]any{"status": "ok"}); st.Required {
		t.Error("requiredWhen unsatisfied, field should not be required")
	}
}

func TestCheckCycles(t *testing.T) {
	acyclic := []model.FieldDefinition{
		{Path: "a", VisibleWhen: "b == 'x'"},
		{Path: "b", VisibleWhen: "c == 'x'"},
		{Path: "c"},
	}
	if err := CheckCycles(acyclic); err != nil {
		t.Errorf("acyclic graph rejected: %v", err)
	}

	cyclic := []model.FieldDefinition{
		{Path: "a", VisibleWhen: "b == 'x'"},
		{Path: "b", RequiredWhen: "a == 'x'"},
	}
	if err := CheckCycles(cyclic); err == nil {
		t.Error("cyclic graph accepted")
	}

	selfRef := []model.FieldDefinition{
		{Path: "a", VisibleWhen: "a == 'x'"},
	}
	if err := CheckCycles(selfRef); err == nil {
		t.Error("self-referential field accepted")
	}
}

func TestMissing(t *testing.T) {
	defs := []model.FieldDefinition{
		{Path: "name", Type: model.FieldTypeString, Required: true},
		{Path: "email", Type: model.FieldTypeString, Required: true},
		{Path: "note", Type: model.FieldTypeString},
		{Path: "contract", Type: model.FieldTypeFile, Required: true},
		{Path: "vat_id", Type: model.FieldTypeString, Required: true, VisibleWhen: "country == 'DE'"},
	}

	fields := map[string]any{"name": "Acme", "country": "US"}
	missingFields, missingUploads := Missing(defs, fields, nil)

	if len(missingFields) != 1 || missingFields[0] != "email" {
		t.Errorf("missingFields = %v, want [email]", missingFields)
	}
	if len(missingUploads) != 1 || missingUploads[0] != "contract" {
		t.Errorf("missingUploads = %v, want [contract]", missingUploads)
	}

	// A completed upload satisfies the file field.
	uploads := map[string]model.UploadRecord{
		"up-1": {UploadID: "up-1", FieldPath: "contract", Status: model.UploadCompleted},
	}
	_, missingUploads = Missing(defs, fields, uploads)
	if len(missingUploads) != 0 {
		t.Errorf("missingUploads = %v, want none after completed upload", missingUploads)
	}

	// A pending upload does not.
	uploads["up-1"] = model.UploadRecord{UploadID: "up-1", FieldPath: "contract", Status: model.UploadPending}
	_, missingUploads = Missing(defs, fields, uploads)
	if len(missingUploads) != 1 {
		t.Errorf("missingUploads = %v, want [contract] with pending upload", missingUploads)
	}
}

func TestMissingEmptyStringCountsAsMissing(t *testing.T) {
	defs := []model.FieldDefinition{
		{Path: "name", Type: model.FieldTypeString, Required: true},
	}
	missingFields, _ := Missing(defs, map[string]any{"name": ""}, nil)
	if len(missingFields) != 1 {
		t.Errorf("empty string should count as missing, got %v", missingFields)
	}
}
