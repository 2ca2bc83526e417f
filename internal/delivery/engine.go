package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/formbridge/formbridge/internal/intake"
	"github.com/formbridge/formbridge/internal/observability"
	"github.com/formbridge/formbridge/internal/submission"
	"github.com/formbridge/formbridge/internal/token"
	"github.com/formbridge/formbridge/model"
)

const defaultRequestTimeout = 10 * time.Second

// Payload is the body posted to the intake's webhook endpoint.
type Payload struct {
	SubmissionID string         `json:"submissionId"`
	IntakeID     string         `json:"intakeId"`
	State        string         `json:"state"`
	Fields       map[string]any `json:"fields"`
	SubmittedBy  model.Actor    `json:"submittedBy"`
	SubmittedAt  time.Time      `json:"submittedAt"`
	Attempt      int            `json:"attempt"`
}

// Engine delivers submission payloads with retries. At most one delivery
// sequence runs per submission at a time; a Dispatch or Retry while a
// sequence is in flight joins it instead of starting a second sender.
type Engine struct {
	store   submission.Store
	intakes *intake.Registry
	policy  model.DeliveryPolicy
	client  *http.Client
	logger  *zap.Logger
	sink    submission.EventSink
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]bool
}

// Option configures a delivery Engine.
type Option func(*Engine)

// WithHTTPClient sets the outbound HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithSink sets the external event sink.
func WithSink(s submission.EventSink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithClock overrides the engine clock. For testing.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a delivery engine.
func NewEngine(store submission.Store, intakes *intake.Registry, policy model.DeliveryPolicy, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:    store,
		intakes:  intakes,
		policy:   policy,
		client:   &http.Client{Timeout: defaultRequestTimeout},
		logger:   zap.NewNop(),
		sink:     submission.NopSink{},
		now:      func() time.Time { return time.Now().UTC() },
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dispatch starts a delivery sequence for a submission unless one is already
// in flight. It returns immediately.
func (e *Engine) Dispatch(submissionID string) {
	e.mu.Lock()
	if e.inflight[submissionID] {
		e.mu.Unlock()
		return
	}
	e.inflight[submissionID] = true
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run(submissionID)
}

// Retry triggers a fresh delivery sequence for a deliverable submission.
// The attempt counter restarts because the sequence does. If a sequence is
// already in flight the call joins it.
func (e *Engine) Retry(ctx context.Context, submissionID string) error {
	sub, err := e.store.Get(ctx, submissionID)
	if err != nil {
		return err
	}
	if !deliverable(sub.State) {
		return model.NewConflictError(
			fmt.Sprintf("submission %q is %s, delivery requires submitted or approved", sub.ID, sub.State))
	}
	e.Dispatch(submissionID)
	return nil
}

// Shutdown waits for in-flight delivery sequences to finish. Pending backoff
// waits are abandoned so shutdown is prompt; interrupted sequences resume on
// the next manual retry.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.cancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) run(submissionID string) {
	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		delete(e.inflight, submissionID)
		e.mu.Unlock()
	}()

	log := e.logger.With(zap.String("submission_id", submissionID))

	maxAttempts := e.policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if !e.wait(e.policy.Backoff(attempt)) {
				log.Info("delivery interrupted by shutdown", zap.Int("attempt", attempt))
				return
			}
		}

		sub, err := e.store.Get(e.ctx, submissionID)
		if err != nil {
			log.Warn("delivery load failed", zap.Error(err))
			return
		}
		// Re-check before every attempt: a cancel or expiry that lands
		// mid-sequence stops the remaining attempts.
		if !deliverable(sub.State) {
			log.Info("submission no longer deliverable", zap.String("state", sub.State))
			return
		}
		in, ok := e.intakes.Get(sub.IntakeID)
		if !ok {
			log.Warn("intake missing, abandoning delivery", zap.String("intake_id", sub.IntakeID))
			return
		}

		code, attemptErr := e.post(in, sub, attempt)
		succeeded := attemptErr == nil && code >= 200 && code < 300

		rec := model.DeliveryAttempt{
			DeliveryID:   uuid.New().String(),
			SubmissionID: sub.ID,
			Attempt:      attempt,
			Timestamp:    e.now(),
			ResponseCode: code,
		}
		if succeeded {
			rec.Outcome = model.DeliverySucceeded
		} else {
			if attemptErr != nil {
				rec.Error = attemptErr.Error()
			} else {
				rec.Error = fmt.Sprintf("endpoint returned status %d", code)
			}
			// A failed attempt with retries left is pending the next try;
			// only the last one in the sequence is a failure.
			if attempt < maxAttempts {
				rec.Outcome = model.DeliveryPending
				next := e.now().Add(e.policy.Backoff(attempt + 1))
				rec.NextRetryAt = &next
			} else {
				rec.Outcome = model.DeliveryFailed
			}
		}
		if err := e.store.RecordAttempt(e.ctx, rec); err != nil {
			log.Warn("record delivery attempt failed", zap.Error(err))
		}
		e.audit(sub, model.EventDeliveryAttempted, map[string]any{
			"deliveryId":   rec.DeliveryID,
			"attempt":      attempt,
			"outcome":      rec.Outcome,
			"responseCode": code,
		})

		if succeeded {
			e.finalize(sub, rec.DeliveryID, attempt)
			return
		}
		log.Warn("delivery attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("response_code", code),
			zap.Error(attemptErr))
	}

	e.auditByID(submissionID, model.EventDeliveryFailed, map[string]any{
		"attempts": maxAttempts,
	})
	log.Error("delivery exhausted", zap.Int("attempts", maxAttempts))
}

// post signs and sends one delivery request.
func (e *Engine) post(in model.Intake, sub model.Submission, attempt int) (int, error) {
	body, err := json.Marshal(Payload{
		SubmissionID: sub.ID,
		IntakeID:     sub.IntakeID,
		State:        sub.State,
		Fields:       sub.Fields,
		SubmittedBy:  sub.UpdatedBy,
		SubmittedAt:  sub.UpdatedAt,
		Attempt:      attempt,
	})
	if err != nil {
		return 0, fmt.Errorf("marshal delivery payload: %w", err)
	}

	req, err := http.NewRequestWithContext(e.ctx, http.MethodPost, in.Webhook.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SubmissionIDHeader, sub.ID)
	req.Header.Set(DeliveryIDHeader, uuid.New().String())
	if in.Webhook.Secret != "" {
		req.Header.Set(SignatureHeader, NewSigner(in.Webhook.Secret).Sign(body))
	}
	observability.InjectTraceHeaders(e.ctx, req.Header)

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// finalize moves a delivered submission to finalized. The save is version
// checked, so a cancel that raced in after our deliverability check wins and
// the finalization is dropped.
func (e *Engine) finalize(sub model.Submission, deliveryID string, attempt int) {
	tok, err := token.New()
	if err != nil {
		e.logger.Error("token mint failed during finalization", zap.Error(err))
		return
	}
	sub.ResumeToken = tok
	sub.State = model.StateFinalized
	sub.UpdatedBy = model.SystemActor()
	sub.UpdatedAt = e.now()

	events := []model.IntakeEvent{
		e.newEvent(sub, model.EventDeliverySucceeded, map[string]any{
			"deliveryId": deliveryID,
			"attempt":    attempt,
		}),
		e.newEvent(sub, model.EventSubmissionFinalized, nil),
	}
	if err := e.store.Save(e.ctx, sub, events); err != nil {
		e.logger.Warn("finalization dropped", zap.String("submission_id", sub.ID), zap.Error(err))
		return
	}
	for _, evt := range events {
		e.sink.Emit(evt)
	}
}

// wait sleeps for the backoff delay, returning false if shutdown fired.
func (e *Engine) wait(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-e.ctx.Done():
		return false
	}
}

func (e *Engine) audit(sub model.Submission, typ string, payload map[string]any) {
	evt := e.newEvent(sub, typ, payload)
	if err := e.store.AppendEvents(e.ctx, sub.ID, []model.IntakeEvent{evt}); err != nil {
		e.logger.Warn("append delivery event failed", zap.String("submission_id", sub.ID), zap.Error(err))
		return
	}
	e.sink.Emit(evt)
}

func (e *Engine) auditByID(submissionID, typ string, payload map[string]any) {
	sub, err := e.store.Get(e.ctx, submissionID)
	if err != nil {
		e.logger.Warn("append delivery event failed", zap.String("submission_id", submissionID), zap.Error(err))
		return
	}
	e.audit(sub, typ, payload)
}

func (e *Engine) newEvent(sub model.Submission, typ string, payload map[string]any) model.IntakeEvent {
	return model.IntakeEvent{
		EventID:      uuid.New().String(),
		Type:         typ,
		SubmissionID: sub.ID,
		Timestamp:    e.now(),
		Actor:        model.SystemActor(),
		State:        sub.State,
		Payload:      payload,
	}
}

// deliverable reports whether a submission in the given state may be posted.
// Exactly the states with a legal edge to finalized qualify.
func deliverable(state string) bool {
	return model.CanTransition(state, model.StateFinalized)
}
