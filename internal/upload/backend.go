// Package upload defines the storage capability consumed at the
// awaiting_upload boundary. The engine treats a Backend as opaque: it asks
// for an upload grant, hands the grant to the caller, and later asks whether
// the upload landed.
package upload

import (
	"context"
	"time"
)

// Params describes a requested upload.
type Params struct {
	SubmissionID string
	FieldPath    string
	Filename     string
	ContentType  string
}

// Constraints limit what the destination accepts.
type Constraints struct {
	MaxSizeBytes int64    `json:"maxSizeBytes,omitempty"`
	ContentTypes []string `json:"contentTypes,omitempty"`
}

// Grant is a capability to perform one upload.
type Grant struct {
	UploadID    string            `json:"uploadId"`
	URL         string            `json:"url"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers,omitempty"`
	Constraints Constraints       `json:"constraints"`
	ExpiresAt   time.Time         `json:"expiresAt"`
}

// Upload status strings returned by VerifyUpload.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Backend issues upload grants and verifies completion.
type Backend interface {
	// GenerateUploadURL issues a grant for one upload.
	GenerateUploadURL(ctx context.Context, params Params) (Grant, error)

	// VerifyUpload returns the current status of an upload.
	VerifyUpload(ctx context.Context, uploadID string) (string, error)
}
