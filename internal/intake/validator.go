package intake

import (
	"fmt"

	"github.com/formbridge/formbridge/internal/condition"
	"github.com/formbridge/formbridge/model"
)

// Validator checks intake configurations before registration. Cyclic
// condition references are rejected here, at registration time, so runtime
// evaluation never loops.
type Validator struct{}

// NewValidator creates a new intake Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all intakes and returns every problem found.
func (v *Validator) Validate(intakes []model.Intake) []error {
	var errs []error

	seen := make(map[string]bool, len(intakes))
	for _, in := range intakes {
		if in.ID == "" {
			errs = append(errs, fmt.Errorf("intake with empty id"))
			continue
		}
		if seen[in.ID] {
			errs = append(errs, fmt.Errorf("intake %q: duplicate id", in.ID))
			continue
		}
		seen[in.ID] = true
		errs = append(errs, v.validateIntake(in)...)
	}

	return errs
}

func (v *Validator) validateIntake(in model.Intake) []error {
	var errs []error

	if in.Webhook.URL == "" {
		errs = append(errs, fmt.Errorf("intake %q: webhook.url is required", in.ID))
	}

	paths := make(map[string]bool, len(in.Fields))
	for _, f := range in.Fields {
		if f.Path == "" {
			errs = append(errs, fmt.Errorf("intake %q: field with empty path", in.ID))
			continue
		}
		if paths[f.Path] {
			errs = append(errs, fmt.Errorf("intake %q: duplicate field path %q", in.ID, f.Path))
		}
		paths[f.Path] = true

		switch f.Type {
		case model.FieldTypeString, model.FieldTypeNumber, model.FieldTypeBoolean, model.FieldTypeFile, "":
		default:
			errs = append(errs, fmt.Errorf("intake %q: field %q has unknown type %q", in.ID, f.Path, f.Type))
		}
	}

	// Condition expressions may only reference declared fields.
	for _, f := range in.Fields {
		for _, expr := range []string{f.VisibleWhen, f.RequiredWhen, f.ValidateWhen} {
			for _, ref := range condition.Refs(expr) {
				if !paths[ref] {
					errs = append(errs, fmt.Errorf(
						"intake %q: field %q condition references unknown field %q", in.ID, f.Path, ref))
				}
			}
		}
	}
	for _, g := range in.ApprovalGates {
		if g.ID == "" {
			errs = append(errs, fmt.Errorf("intake %q: approval gate with empty id", in.ID))
		}
		for _, ref := range condition.Refs(g.When) {
			if !paths[ref] {
				errs = append(errs, fmt.Errorf(
					"intake %q: gate %q condition references unknown field %q", in.ID, g.ID, ref))
			}
		}
	}

	if err := condition.CheckCycles(in.Fields); err != nil {
		errs = append(errs, fmt.Errorf("intake %q: %w", in.ID, err))
	}

	return errs
}
