// Package intake loads, validates, and serves intake configurations: the
// field schema, approval gates, and webhook destination for each intake.
package intake

import (
	"sort"

	"github.com/formbridge/formbridge/internal/condition"
	"github.com/formbridge/formbridge/model"
)

// Registry provides read access to registered intakes. It is immutable after
// construction and safe for concurrent use.
type Registry struct {
	intakes map[string]model.Intake
}

// NewRegistry builds a registry from validated intakes.
func NewRegistry(intakes []model.Intake) *Registry {
	m := make(map[string]model.Intake, len(intakes))
	for _, in := range intakes {
		m[in.ID] = in
	}
	return &Registry{intakes: m}
}

// Get returns the intake with the given ID.
func (r *Registry) Get(id string) (model.Intake, bool) {
	in, ok := r.intakes[id]
	return in, ok
}

// IDs returns all registered intake IDs, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.intakes))
	for id := range r.intakes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered intakes.
func (r *Registry) Len() int {
	return len(r.intakes)
}

// ApplicableGates returns the approval gates that apply to a submission with
// the given field values. A gate without a When expression always applies.
// An empty result means the submission proceeds directly to delivery.
func ApplicableGates(in model.Intake, fields map[string]any) []model.ApprovalGate {
	var gates []model.ApprovalGate
	for _, g := range in.ApprovalGates {
		if condition.Evaluate(g.When, fields) {
			gates = append(gates, g)
		}
	}
	return gates
}
