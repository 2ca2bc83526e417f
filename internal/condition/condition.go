// Package condition evaluates per-field visibility, requiredness, and
// validation rules against a submission's current field values. Evaluation is
// pure: the same inputs always produce the same outputs, and nothing here
// touches storage.
package condition

import (
	"fmt"
	"strings"

	"github.com/formbridge/formbridge/model"
)

// FieldState is the evaluator's verdict for a single field.
type FieldState struct {
	Visible           bool
	Required          bool
	ValidationEnabled bool
}

// Evaluate evaluates a condition expression against field values. The
// grammar is "field == 'value'" or "field != 'value'"; an empty expression is
// always true. Unparseable expressions are treated as true so a typo in a
// rule never hides data (the validator catches unknown field references at
// registration time).
func Evaluate(expr string, fields map[string]any) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true
	}
	if field, expected, ok := splitOperator(expr, "!="); ok {
		return fmt.Sprint(fields[field]) != expected
	}
	if field, expected, ok := splitOperator(expr, "=="); ok {
		return fmt.Sprint(fields[field]) == expected
	}
	return true
}

// Refs returns the field paths an expression reads. Used to build the
// dependency graph for cycle detection.
func Refs(expr string) []string {
	if field, _, ok := splitOperator(expr, "!="); ok {
		return []string{field}
	}
	if field, _, ok := splitOperator(expr, "=="); ok {
		return []string{field}
	}
	return nil
}

// EvaluateField computes a field's state from its definition and the current
// values. A hidden field is never required and never validated.
func EvaluateField(def model.FieldDefinition, fields map[string]any) FieldState {
	visible := Evaluate(def.VisibleWhen, fields)
	if !visible {
		return FieldState{}
	}

	required := def.Required
	if def.RequiredWhen != "" {
		required = Evaluate(def.RequiredWhen, fields)
	}

	return FieldState{
		Visible:           true,
		Required:          required,
		ValidationEnabled: Evaluate(def.ValidateWhen, fields),
	}
}

// CheckCycles rejects field definitions whose condition expressions reference
// each other cyclically. It runs a depth-first search over the dependency
// graph and returns an error naming one field on the cycle.
func CheckCycles(defs []model.FieldDefinition) error {
	deps := make(map[string][]string, len(defs))
	for _, def := range defs {
		var refs []string
		for _, expr := range []string{def.VisibleWhen, def.RequiredWhen, def.ValidateWhen} {
			refs = append(refs, Refs(expr)...)
		}
		deps[def.Path] = refs
	}

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(deps))

	var visit func(path string) error
	visit = func(path string) error {
		switch state[path] {
		case inStack:
			return fmt.Errorf("condition: cyclic dependency involving field %q", path)
		case done:
			return nil
		}
		state[path] = inStack
		for _, ref := range deps[path] {
			if err := visit(ref); err != nil {
				return err
			}
		}
		state[path] = done
		return nil
	}

	for _, def := range defs {
		if err := visit(def.Path); err != nil {
			return err
		}
	}
	return nil
}

// Missing reports the visible required fields that have no value and the
// visible required file fields with no completed upload. It drives the
// awaiting_input / awaiting_upload state computation and the submit-time
// readiness check.
func Missing(defs []model.FieldDefinition, fields map[string]any, uploads map[string]model.UploadRecord) (missingFields, missingUploads []string) {
	completed := make(map[string]bool)
	for _, up := range uploads {
		if up.Status == model.UploadCompleted {
			completed[up.FieldPath] = true
		}
	}

	for _, def := range defs {
		st := EvaluateField(def, fields)
		if !st.Required {
			continue
		}
		if def.IsFile() {
			if !completed[def.Path] {
				missingUploads = append(missingUploads, def.Path)
			}
			continue
		}
		if !hasValue(fields, def.Path) {
			missingFields = append(missingFields, def.Path)
		}
	}
	return missingFields, missingUploads
}

func hasValue(fields map[string]any, path string) bool {
	v, ok := fields[path]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr && s == "" {
		return false
	}
	return true
}

func splitOperator(expr, op string) (field, value string, ok bool) {
	idx := indexOperator(expr, op)
	if idx < 0 {
		return "", "", false
	}
	field = strings.TrimSpace(expr[:idx])
	value = trimQuotes(strings.TrimSpace(expr[idx+len(op):]))
	if field == "" {
		return "", "", false
	}
	return field, value, true
}

// indexOperator finds an operator occurrence, skipping "==" that is really
// the tail of "!=".
func indexOperator(s, op string) int {
	for i := 0; i <= len(s)-len(op); i++ {
		if s[i:i+len(op)] != op {
			continue
		}
		if op == "==" && i > 0 && s[i-1] == '!' {
			continue
		}
		return i
	}
	return -1
}

func trimQuotes(s string) string {
	if len(s) >= 2 && ((s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"')) {
		return s[1 : len(s)-1]
	}
	return s
}
