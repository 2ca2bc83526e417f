package intake

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/formbridge/formbridge/model"
)

func testIntake() model.Intake {
	return model.Intake{
		ID:   "vendor-onboarding",
		Name: "Vendor Onboarding",
		Fields: []model.FieldDefinition{
			{Path: "name", Type: model.FieldTypeString, Required: true},
			{Path: "country", Type: model.FieldTypeString, Required: true},
			{Path: "vat_id", Type: model.FieldTypeString, Required: true, VisibleWhen: "country == 'DE'"},
		},
		ApprovalGates: []model.ApprovalGate{
			{ID: "finance", Name: "Finance Review", When: "country != 'US'"},
		},
		Webhook: model.WebhookConfig{URL: "https://erp.example.com/hooks/vendors", Secret: "s3cret"},
	}
}

func TestRegistryGet(t *testing.T) {
	reg := NewRegistry([]model.Intake{testIntake()})

	if reg.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", reg.Len())
	}
	in, ok := reg.Get("vendor-onboarding")
	if !ok {
		t.Fatal("Get(vendor-onboarding) not found")
	}
	if in.Name != "Vendor Onboarding" {
		t.Errorf("Name = %q", in.Name)
	}
	if _, ok := reg.Get("nope"); ok {
		t.Error("Get(nope) should not be found")
	}
}

func TestApplicableGates(t *testing.T) {
	in := testIntake()

	gates := ApplicableGates(in, map[string]any{"country": "DE"})
	if len(gates) != 1 || gates[0].ID != "finance" {
		t.Errorf("gates = %v, want [finance]", gates)
	}

	gates = ApplicableGates(in, map[string]any{"country": "US"})
	if len(gates) != 0 {
		t.Errorf("gates = %v, want none for US", gates)
	}
}

func TestApplicableGatesUnconditionalGateAlwaysApplies(t *testing.T) {
	in := testIntake()
	in.ApprovalGates = []model.ApprovalGate{{ID: "always", Name: "Always"}}

	if gates := ApplicableGates(in, nil); len(gates) != 1 {
		t.Errorf("unconditional gate should always apply, got %v", gates)
	}
}

func TestValidatorAcceptsWellFormedIntake(t *testing.T) {
	v := NewValidator()
	if errs := v.Validate([]model.Intake{testIntake()}); len(errs) != 0 {
		t.Errorf("unexpected validation errors: %v", errs)
	}
}

func TestValidatorRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.Intake)
	}{
		{"empty id", func(in *model.Intake) { in.ID = "" }},
		{"missing webhook url", func(in *model.Intake) { in.Webhook.URL = "" }},
		{"duplicate field path", func(in *model.Intake) {
			in.Fields = append(in.Fields, model.FieldDefinition{Path: "name", Type: model.FieldTypeString})
		}},
		{"unknown field type", func(in *model.Intake) {
			in.Fields = append(in.Fields, model.FieldDefinition{Path: "x", Type: "blob"})
		}},
		{"condition references unknown field", func(in *model.Intake) {
			in.Fields = append(in.Fields, model.FieldDefinition{
				Path: "x", Type: model.FieldTypeString, VisibleWhen: "ghost == 'y'",
			})
		}},
		{"gate references unknown field", func(in *model.Intake) {
			in.ApprovalGates = append(in.ApprovalGates, model.ApprovalGate{ID: "g2", When: "ghost == 'y'"})
		}},
		{"cyclic conditions", func(in *model.Intake) {
			in.Fields = append(in.Fields,
				model.FieldDefinition{Path: "a", Type: model.FieldTypeString, VisibleWhen: "b == 'x'"},
				model.FieldDefinition{Path: "b", Type: model.FieldTypeString, VisibleWhen: "a == 'x'"},
			)
		}},
	}

	v := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := testIntake()
			tt.mutate(&in)
			if errs := v.Validate([]model.Intake{in}); len(errs) == 0 {
				t.Error("expected validation errors, got none")
			}
		})
	}
}

func TestValidatorRejectsDuplicateIntakeIDs(t *testing.T) {
	v := NewValidator()
	errs := v.Validate([]model.Intake{testIntake(), testIntake()})
	if len(errs) == 0 {
		t.Error("duplicate intake ids accepted")
	}
}

func TestLoaderLoadAll(t *testing.T) {
	dir := t.TempDir()
	yaml := `
id: vendor-onboarding
name: Vendor Onboarding
fields:
  - path: name
    type: string
    required: true
  - path: vat_id
    type: string
    required: true
    visible_when: "country == 'DE'"
approval_gates:
  - id: finance
    name: Finance Review
    when: "country != 'US'"
webhook:
  url: https://erp.example.com/hooks/vendors
  secret: s3cret
`
	if err := os.WriteFile(filepath.Join(dir, "vendor.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	// Non-YAML files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}

	intakes, err := NewLoader().LoadAll([]string{dir})
	if err != nil {
		t.Fatalf("LoadAll error: %v", err)
	}
	if len(intakes) != 1 {
		t.Fatalf("loaded %d intakes, want 1", len(intakes))
	}

	in := intakes[0]
	if in.ID != "vendor-onboarding" {
		t.Errorf("ID = %q", in.ID)
	}
	if len(in.Fields) != 2 {
		t.Fatalf("fields = %d, want 2", len(in.Fields))
	}
	if in.Fields[1].VisibleWhen != "country == 'DE'" {
		t.Errorf("visibleWhen = %q", in.Fields[1].VisibleWhen)
	}
	if len(in.ApprovalGates) != 1 || in.ApprovalGates[0].ID != "finance" {
		t.Errorf("gates = %v", in.ApprovalGates)
	}
	if in.Webhook.Secret != "s3cret" {
		t.Errorf("webhook secret not parsed")
	}
}

func TestLoaderRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("{{nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLoader().LoadAll([]string{dir}); err == nil {
		t.Error("malformed YAML accepted")
	}
}
