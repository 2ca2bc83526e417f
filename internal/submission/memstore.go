package submission

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/formbridge/formbridge/model"
)

// MemoryStore is an in-memory Store. The single mutex makes each Create/Save
// call atomic with its event appends. Suitable for testing and
// single-instance deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	subs     map[string]model.Submission       // key: submission ID
	events   map[string][]model.IntakeEvent    // key: submission ID
	attempts map[string][]model.DeliveryAttempt // key: submission ID
	tokens   map[string]string                  // key: resume token, value: submission ID
}

// NewMemoryStore creates a new in-memory submission store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs:     make(map[string]model.Submission),
		events:   make(map[string][]model.IntakeEvent),
		attempts: make(map[string][]model.DeliveryAttempt),
		tokens:   make(map[string]string),
	}
}

// Create persists a new submission and its initial events.
func (s *MemoryStore) Create(_ context.Context, sub model.Submission, events []model.IntakeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subs[sub.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("submission %q already exists", sub.ID))
	}

	s.subs[sub.ID] = sub.Clone()
	s.tokens[sub.ResumeToken] = sub.ID
	s.appendLocked(sub.ID, events)
	return nil
}

// Get retrieves a submission by ID.
func (s *MemoryStore) Get(_ context.Context, id string) (model.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, exists := s.subs[id]
	if !exists {
		return model.Submission{}, model.NewNotFoundError(fmt.Sprintf("submission %q not found", id))
	}
	return sub.Clone(), nil
}

// GetByResumeToken retrieves a submission by its current resume token.
func (s *MemoryStore) GetByResumeToken(_ context.Context, tok string) (model.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.tokens[tok]
	if !exists {
		return model.Submission{}, model.NewNotFoundError("no submission for resume token")
	}
	return s.subs[id].Clone(), nil
}

// Save persists an updated submission with optimistic locking and appends
// its events under the same lock.
func (s *MemoryStore) Save(_ context.Context, sub model.Submission, events []model.IntakeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.subs[sub.ID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("submission %q not found", sub.ID))
	}
	if existing.Version != sub.Version {
		return model.NewConflictError(fmt.Sprintf(
			"submission %q version conflict (expected %d, got %d)", sub.ID, sub.Version, existing.Version))
	}

	// The engine stamps UpdatedAt with its own clock; the store keeps it.
	sub = sub.Clone()
	sub.Version++

	if existing.ResumeToken != sub.ResumeToken {
		delete(s.tokens, existing.ResumeToken)
		s.tokens[sub.ResumeToken] = sub.ID
	}

	s.subs[sub.ID] = sub
	s.appendLocked(sub.ID, events)
	return nil
}

// AppendEvents appends audit events without touching submission state.
func (s *MemoryStore) AppendEvents(_ context.Context, submissionID string, events []model.IntakeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subs[submissionID]; !exists {
		return model.NewNotFoundError(fmt.Sprintf("submission %q not found", submissionID))
	}
	s.appendLocked(submissionID, events)
	return nil
}

// appendLocked assigns strictly increasing positions and appends. Caller
// holds the write lock.
func (s *MemoryStore) appendLocked(submissionID string, events []model.IntakeEvent) {
	base := int64(len(s.events[submissionID]))
	for i, evt := range events {
		evt.Position = base + int64(i) + 1
		s.events[submissionID] = append(s.events[submissionID], evt)
	}
}

// GetEvents returns a filtered view of a submission's events in log order.
func (s *MemoryStore) GetEvents(_ context.Context, submissionID string, filter model.EventFilter) ([]model.IntakeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.subs[submissionID]; !exists {
		return nil, model.NewNotFoundError(fmt.Sprintf("submission %q not found", submissionID))
	}

	var result []model.IntakeEvent
	for _, evt := range s.events[submissionID] {
		if filter.Matches(evt) {
			result = append(result, evt)
		}
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []model.IntakeEvent{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

// RecordAttempt persists one delivery attempt.
func (s *MemoryStore) RecordAttempt(_ context.Context, attempt model.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts[attempt.SubmissionID] = append(s.attempts[attempt.SubmissionID], attempt)
	return nil
}

// GetAttempts returns a submission's delivery attempts in order.
func (s *MemoryStore) GetAttempts(_ context.Context, submissionID string) ([]model.DeliveryAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	attempts := s.attempts[submissionID]
	result := make([]model.DeliveryAttempt, len(attempts))
	copy(result, attempts)
	return result, nil
}

// List returns submissions for an intake, newest first.
func (s *MemoryStore) List(_ context.Context, intakeID string, filters ListFilters) ([]model.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Submission
	for _, sub := range s.subs {
		if sub.IntakeID != intakeID {
			continue
		}
		if filters.State != "" && sub.State != filters.State {
			continue
		}
		result = append(result, sub.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filters.Offset > 0 {
		if filters.Offset >= len(result) {
			return []model.Submission{}, nil
		}
		result = result[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(result) {
		result = result[:filters.Limit]
	}
	return result, nil
}

// FindExpired returns non-terminal submissions past their expiration time.
func (s *MemoryStore) FindExpired(_ context.Context, cutoff time.Time) ([]model.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Submission
	for _, sub := range s.subs {
		if model.IsTerminalState(sub.State) {
			continue
		}
		if sub.ExpiresAt == nil || !sub.ExpiresAt.Before(cutoff) {
			continue
		}
		result = append(result, sub.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ExpiresAt.Before(*result[j].ExpiresAt)
	})
	return result, nil
}

// Len returns the total number of submissions. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
