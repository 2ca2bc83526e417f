package model

// Intake is a registered intake configuration: the field schema, webhook
// destination, and approval gates consulted at submit time.
type Intake struct {
	ID            string            `yaml:"id" json:"id"`
	Name          string            `yaml:"name" json:"name"`
	Fields        []FieldDefinition `yaml:"fields" json:"fields"`
	ApprovalGates []ApprovalGate    `yaml:"approval_gates" json:"approval_gates,omitempty"`
	Webhook       WebhookConfig     `yaml:"webhook" json:"webhook"`
}

// Field type constants.
const (
	FieldTypeString  = "string"
	FieldTypeNumber  = "number"
	FieldTypeBoolean = "boolean"
	FieldTypeFile    = "file"
)

// FieldDefinition declares one field of an intake's schema. The three
// condition expressions may reference other fields' values; the reference
// graph must be acyclic, which the intake validator enforces at registration.
type FieldDefinition struct {
	Path         string          `yaml:"path" json:"path"`
	Type         string          `yaml:"type" json:"type"`
	Required     bool            `yaml:"required" json:"required"`
	VisibleWhen  string          `yaml:"visible_when" json:"visible_when,omitempty"`
	RequiredWhen string          `yaml:"required_when" json:"required_when,omitempty"`
	ValidateWhen string          `yaml:"validate_when" json:"validate_when,omitempty"`
}

// IsFile reports whether the field is satisfied by a completed upload rather
// than a value.
func (f FieldDefinition) IsFile() bool {
	return f.Type == FieldTypeFile
}

// ApprovalGate requires a human reviewer to approve a submission before
// delivery proceeds. A gate with a When expression only applies when the
// expression holds against the submission's current fields.
type ApprovalGate struct {
	ID        string   `yaml:"id" json:"id"`
	Name      string   `yaml:"name" json:"name"`
	Reviewers []string `yaml:"reviewers" json:"reviewers,omitempty"`
	When      string   `yaml:"when" json:"when,omitempty"`
}

// WebhookConfig is the delivery destination for finished submissions.
type WebhookConfig struct {
	URL    string `yaml:"url" json:"url"`
	Secret string `yaml:"secret" json:"-"`
}
