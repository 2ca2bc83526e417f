package upload

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/formbridge/formbridge/model"
)

const defaultGrantTTL = 15 * time.Minute

// MemoryBackend is an in-process Backend. Grants point at a configurable
// base URL; completion is driven through Complete/Fail, which tests and the
// local dev server call in place of a real object store's notification.
type MemoryBackend struct {
	baseURL string

	mu      sync.RWMutex
	uploads map[string]string // key: upload ID, value: status
}

// NewMemoryBackend creates a new in-memory upload backend.
func NewMemoryBackend(baseURL string) *MemoryBackend {
	if baseURL == "" {
		baseURL = "http://localhost:9000/uploads"
	}
	return &MemoryBackend{
		baseURL: baseURL,
		uploads: make(map[string]string),
	}
}

// GenerateUploadURL issues a grant and records the upload as pending.
func (b *MemoryBackend) GenerateUploadURL(_ context.Context, params Params) (Grant, error) {
	id := uuid.New().String()

	b.mu.Lock()
	b.uploads[id] = StatusPending
	b.mu.Unlock()

	headers := map[string]string{}
	if params.ContentType != "" {
		headers["Content-Type"] = params.ContentType
	}

	return Grant{
		UploadID: id,
		URL:      fmt.Sprintf("%s/%s", b.baseURL, id),
		Method:   http.MethodPut,
		Headers:  headers,
		Constraints: Constraints{
			MaxSizeBytes: 25 << 20,
		},
		ExpiresAt: time.Now().UTC().Add(defaultGrantTTL),
	}, nil
}

// VerifyUpload returns the current status of an upload.
func (b *MemoryBackend) VerifyUpload(_ context.Context, uploadID string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	status, exists := b.uploads[uploadID]
	if !exists {
		return "", model.NewNotFoundError(fmt.Sprintf("upload %q not found", uploadID))
	}
	return status, nil
}

// Complete marks an upload as completed.
func (b *MemoryBackend) Complete(uploadID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.uploads[uploadID]; exists {
		b.uploads[uploadID] = StatusCompleted
	}
}

// Fail marks an upload as failed.
func (b *MemoryBackend) Fail(uploadID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.uploads[uploadID]; exists {
		b.uploads[uploadID] = StatusFailed
	}
}
