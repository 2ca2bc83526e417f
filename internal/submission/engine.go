package submission

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/formbridge/formbridge/internal/condition"
	"github.com/formbridge/formbridge/internal/intake"
	"github.com/formbridge/formbridge/internal/token"
	"github.com/formbridge/formbridge/internal/upload"
	"github.com/formbridge/formbridge/model"
)

const defaultIdempotencyTTL = 24 * time.Hour

// Engine owns the submission lifecycle. Every mutating operation verifies
// the presented resume token against the stored current one, applies the
// state transition, rotates the token, and persists state plus audit events
// as one unit. Whichever of two racing actors reaches the store first wins;
// the other fails with invalid_resume_token and must re-obtain the current
// token out of band.
type Engine struct {
	intakes  *intake.Registry
	store    Store
	idem     IdempotencyStore
	uploads  upload.Backend
	delivery DeliveryDispatcher
	sink     EventSink
	logger   *zap.Logger
	idemTTL  time.Duration
	// defaultTTL applies to submissions created without an explicit TTL.
	// Zero means submissions never expire unless the caller asks.
	defaultTTL time.Duration
	now        func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithIdempotencyStore sets the creation dedup store.
func WithIdempotencyStore(s IdempotencyStore) EngineOption {
	return func(e *Engine) { e.idem = s }
}

// WithUploadBackend sets the upload backend.
func WithUploadBackend(b upload.Backend) EngineOption {
	return func(e *Engine) { e.uploads = b }
}

// WithDispatcher sets the delivery dispatcher.
func WithDispatcher(d DeliveryDispatcher) EngineOption {
	return func(e *Engine) { e.delivery = d }
}

// WithSink sets the external event sink.
func WithSink(s EventSink) EngineOption {
	return func(e *Engine) { e.sink = s }
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the engine clock. For testing.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithDefaultTTL sets the TTL applied to submissions created without one.
func WithDefaultTTL(d time.Duration) EngineOption {
	return func(e *Engine) { e.defaultTTL = d }
}

// NewEngine creates a submission engine.
func NewEngine(intakes *intake.Registry, store Store, opts ...EngineOption) *Engine {
	e := &Engine{
		intakes:  intakes,
		store:    store,
		idem:     NewMemoryIdempotencyStore(),
		delivery: NopDispatcher{},
		sink:     NopSink{},
		logger:   zap.NewNop(),
		idemTTL:  defaultIdempotencyTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the success envelope for mutating operations. The caller must
// use the returned submission's resume token for its next call.
type Result struct {
	Submission    model.Submission
	MissingFields []string
}

// CreateParams are the inputs to Create.
type CreateParams struct {
	IntakeID       string
	Actor          model.Actor
	Fields         map[string]any
	IdempotencyKey string
	TTL            time.Duration
}

// Create allocates a new submission in draft. A request bearing a previously
// seen idempotency key returns the original submission unchanged.
func (e *Engine) Create(ctx context.Context, p CreateParams) (Result, error) {
	in, ok := e.intakes.Get(p.IntakeID)
	if !ok {
		return Result{}, model.NewNotFoundError(fmt.Sprintf("intake %q not found", p.IntakeID))
	}

	var idemKey string
	if p.IdempotencyKey != "" {
		idemKey = FormatIdempotencyKey(p.IntakeID, p.IdempotencyKey)
		if existingID, found, err := e.idem.Check(ctx, idemKey); err != nil {
			return Result{}, err
		} else if found {
			existing, err := e.store.Get(ctx, existingID)
			if err != nil {
				return Result{}, err
			}
			return e.result(existing, in), nil
		}
	}

	tok, err := token.New()
	if err != nil {
		return Result{}, err
	}

	now := e.now()
	sub := model.Submission{
		ID:          uuid.New().String(),
		IntakeID:    p.IntakeID,
		State:       model.StateDraft,
		ResumeToken: tok,
		Fields:      make(map[string]any, len(p.Fields)),
		CreatedBy:   p.Actor,
		UpdatedBy:   p.Actor,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
	for k, v := range p.Fields {
		sub.Fields[k] = v
		if sub.FieldAttribution == nil {
			sub.FieldAttribution = make(map[string]model.Actor, len(p.Fields))
		}
		sub.FieldAttribution[k] = p.Actor
	}
	ttl := p.TTL
	if ttl == 0 {
		ttl = e.defaultTTL
	}
	if ttl != 0 {
		exp := now.Add(ttl)
		sub.ExpiresAt = &exp
	}
	if p.IdempotencyKey != "" {
		sub.SeenIdempotencyKeys = map[string]bool{p.IdempotencyKey: true}
	}

	events := []model.IntakeEvent{e.newEvent(sub, model.EventSubmissionCreated, p.Actor, map[string]any{
		"intakeId":      p.IntakeID,
		"initialFields": fieldKeys(p.Fields),
	})}

	if err := e.store.Create(ctx, sub, events); err != nil {
		return Result{}, err
	}
	if idemKey != "" {
		if err := e.idem.Store(ctx, idemKey, sub.ID, e.idemTTL); err != nil {
			e.logger.Warn("idempotency store failed", zap.String("submission_id", sub.ID), zap.Error(err))
		}
	}
	e.emit(events)

	return e.result(sub, in), nil
}

// SetFieldsParams are the inputs to SetFields.
type SetFieldsParams struct {
	ID          string
	ResumeToken string
	Actor       model.Actor
	Fields      map[string]any
}

// SetFields updates field values. One field.updated event is emitted per
// changed field, attribution moves to the acting party, and the submission
// state is recomputed from the condition evaluator's output.
func (e *Engine) SetFields(ctx context.Context, p SetFieldsParams) (Result, error) {
	sub, in, err := e.loadMutable(ctx, p.ID, p.ResumeToken)
	if err != nil {
		return Result{}, err
	}

	defs := fieldDefs(in)
	var details []model.FieldError
	for k := range p.Fields {
		def, known := defs[k]
		if !known {
			details = append(details, model.FieldError{
				Field: k, Code: "unknown_field", Message: "field is not declared by the intake schema",
			})
			continue
		}
		if def.IsFile() {
			details = append(details, model.FieldError{
				Field: k, Code: "file_field", Message: "file fields are set through the upload flow",
			})
		}
	}
	if len(details) > 0 {
		return Result{}, model.NewValidationFailedError(details)
	}

	if sub.Fields == nil {
		sub.Fields = make(map[string]any)
	}
	if sub.FieldAttribution == nil {
		sub.FieldAttribution = make(map[string]model.Actor)
	}

	var events []model.IntakeEvent
	for k, v := range p.Fields {
		old, had := sub.Fields[k]
		if had && reflect.DeepEqual(old, v) {
			continue
		}
		sub.Fields[k] = v
		sub.FieldAttribution[k] = p.Actor

		payload := map[string]any{"field": k, "newValue": v}
		if had {
			payload["oldValue"] = old
		}
		events = append(events, e.newEvent(sub, model.EventFieldUpdated, p.Actor, payload))
	}

	sub.State = e.openState(in, sub)
	sub.UpdatedBy = p.Actor
	for i := range events {
		events[i].State = sub.State
	}

	if err := e.rotateAndSave(ctx, &sub, events); err != nil {
		return Result{}, err
	}
	e.emit(events)
	return e.result(sub, in), nil
}

// ValidationReport is the read-only outcome of Validate.
type ValidationReport struct {
	Ready          bool               `json:"ready"`
	MissingFields  []string           `json:"missingFields,omitempty"`
	MissingUploads []string           `json:"missingUploads,omitempty"`
	Errors         []model.FieldError `json:"errors,omitempty"`
}

// Validate runs schema and condition checks without mutating state or
// rotating the token. The outcome is audited.
func (e *Engine) Validate(ctx context.Context, id, resumeToken string) (ValidationReport, error) {
	sub, in, err := e.loadReadOnly(ctx, id, resumeToken)
	if err != nil {
		return ValidationReport{}, err
	}

	report := e.buildReport(in, sub)

	evtType := model.EventValidationPassed
	if !report.Ready {
		evtType = model.EventValidationFailed
	}
	evt := e.newEvent(sub, evtType, sub.UpdatedBy, map[string]any{
		"missingFields":  report.MissingFields,
		"missingUploads": report.MissingUploads,
		"errorCount":     len(report.Errors),
	})
	if err := e.store.AppendEvents(ctx, sub.ID, []model.IntakeEvent{evt}); err != nil {
		return ValidationReport{}, err
	}
	e.emit([]model.IntakeEvent{evt})

	return report, nil
}

// SubmitParams are the inputs to Submit.
type SubmitParams struct {
	ID             string
	ResumeToken    string
	Actor          model.Actor
	IdempotencyKey string
}

// SubmitResult distinguishes a submission handed to delivery from one parked
// for review. NeedsApproval is a soft block: Envelope carries the typed
// needs_approval error with next actions, while Submission holds the updated
// record and freshly rotated token.
type SubmitResult struct {
	Submission    model.Submission
	NeedsApproval bool
	Envelope      *model.ErrorEnvelope
}

// Submit checks readiness, consults the intake's approval gates, and either
// parks the submission in needs_review or moves it to submitted and hands it
// to the delivery engine.
func (e *Engine) Submit(ctx context.Context, p SubmitParams) (SubmitResult, error) {
	// Replayed submits are answered from the current record before any
	// token check: the first accepted submit rotated the token, so the
	// retry necessarily carries a stale one.
	if p.IdempotencyKey != "" {
		if existing, err := e.store.Get(ctx, p.ID); err == nil && existing.SeenIdempotencyKeys[p.IdempotencyKey] {
			res := SubmitResult{Submission: existing}
			if existing.State == model.StateNeedsReview {
				res.NeedsApproval = true
				res.Envelope = model.NewNeedsApprovalError(existing.ID)
			}
			return res, nil
		}
	}

	sub, in, err := e.loadMutable(ctx, p.ID, p.ResumeToken)
	if err != nil {
		return SubmitResult{}, err
	}

	switch sub.State {
	case model.StateDraft, model.StateInProgress, model.StateAwaitingInput, model.StateAwaitingUpload:
	default:
		return SubmitResult{}, model.NewConflictError(
			fmt.Sprintf("submission %q cannot be submitted from state %q", sub.ID, sub.State))
	}

	report := e.buildReport(in, sub)
	if !report.Ready {
		details := report.Errors
		for _, f := range report.MissingFields {
			details = append(details, model.FieldError{Field: f, Code: "required", Message: "required field is missing"})
		}
		for _, f := range report.MissingUploads {
			details = append(details, model.FieldError{Field: f, Code: "upload_required", Message: "required upload is not completed"})
		}
		evt := e.newEvent(sub, model.EventValidationFailed, p.Actor, map[string]any{
			"missingFields":  report.MissingFields,
			"missingUploads": report.MissingUploads,
			"errorCount":     len(report.Errors),
		})
		if appendErr := e.store.AppendEvents(ctx, sub.ID, []model.IntakeEvent{evt}); appendErr == nil {
			e.emit([]model.IntakeEvent{evt})
		}
		return SubmitResult{}, model.NewValidationFailedError(details)
	}

	if p.IdempotencyKey != "" {
		if sub.SeenIdempotencyKeys == nil {
			sub.SeenIdempotencyKeys = make(map[string]bool)
		}
		sub.SeenIdempotencyKeys[p.IdempotencyKey] = true
	}
	sub.UpdatedBy = p.Actor

	gates := intake.ApplicableGates(in, sub.Fields)
	if len(gates) > 0 {
		sub.State = model.StateNeedsReview
		gateIDs := make([]string, len(gates))
		for i, g := range gates {
			gateIDs[i] = g.ID
		}
		events := []model.IntakeEvent{e.newEvent(sub, model.EventReviewRequested, p.Actor, map[string]any{
			"gates": gateIDs,
		})}
		if err := e.rotateAndSave(ctx, &sub, events); err != nil {
			return SubmitResult{}, err
		}
		e.emit(events)
		return SubmitResult{
			Submission:    sub,
			NeedsApproval: true,
			Envelope:      model.NewNeedsApprovalError(sub.ID),
		}, nil
	}

	sub.State = model.StateSubmitted
	events := []model.IntakeEvent{e.newEvent(sub, model.EventSubmissionSubmitted, p.Actor, nil)}
	if err := e.rotateAndSave(ctx, &sub, events); err != nil {
		return SubmitResult{}, err
	}
	e.emit(events)
	e.delivery.Dispatch(sub.ID)

	return SubmitResult{Submission: sub}, nil
}

// ReviewParams are the inputs to Approve and Reject.
type ReviewParams struct {
	ID          string
	ResumeToken string
	Actor       model.Actor
	Comment     string
}

// Approve moves a submission from needs_review to approved and (re)triggers
// delivery.
func (e *Engine) Approve(ctx context.Context, p ReviewParams) (Result, error) {
	sub, in, err := e.loadReview(ctx, p.ID, p.ResumeToken)
	if err != nil {
		return Result{}, err
	}

	sub.State = model.StateApproved
	sub.UpdatedBy = p.Actor
	events := []model.IntakeEvent{e.newEvent(sub, model.EventReviewApproved, p.Actor, commentPayload(p.Comment))}
	if err := e.rotateAndSave(ctx, &sub, events); err != nil {
		return Result{}, err
	}
	e.emit(events)
	e.delivery.Dispatch(sub.ID)

	return e.result(sub, in), nil
}

// Reject moves a submission from needs_review to the terminal rejected state.
func (e *Engine) Reject(ctx context.Context, p ReviewParams) (Result, error) {
	sub, in, err := e.loadReview(ctx, p.ID, p.ResumeToken)
	if err != nil {
		return Result{}, err
	}

	sub.State = model.StateRejected
	sub.UpdatedBy = p.Actor
	events := []model.IntakeEvent{e.newEvent(sub, model.EventReviewRejected, p.Actor, commentPayload(p.Comment))}
	if err := e.rotateAndSave(ctx, &sub, events); err != nil {
		return Result{}, err
	}
	e.emit(events)

	return e.result(sub, in), nil
}

// RequestChangesParams are the inputs to RequestChanges.
type RequestChangesParams struct {
	ID          string
	ResumeToken string
	Actor       model.Actor
	Comments    map[string]string // field path -> reviewer comment
}

// RequestChanges returns a gated submission to its filler with field-level
// comments recorded as event payload.
func (e *Engine) RequestChanges(ctx context.Context, p RequestChangesParams) (Result, error) {
	sub, in, err := e.loadReview(ctx, p.ID, p.ResumeToken)
	if err != nil {
		return Result{}, err
	}

	sub.State = e.openState(in, sub)
	sub.UpdatedBy = p.Actor
	events := []model.IntakeEvent{e.newEvent(sub, model.EventReviewRejected, p.Actor, map[string]any{
		"outcome":  "changes_requested",
		"comments": p.Comments,
	})}
	if err := e.rotateAndSave(ctx, &sub, events); err != nil {
		return Result{}, err
	}
	e.emit(events)

	return e.result(sub, in), nil
}

// CancelParams are the inputs to Cancel.
type CancelParams struct {
	ID          string
	ResumeToken string
	Actor       model.Actor
	Reason      string
}

// Cancel moves a submission from any non-terminal state to cancelled.
func (e *Engine) Cancel(ctx context.Context, p CancelParams) (Result, error) {
	sub, in, err := e.loadMutable(ctx, p.ID, p.ResumeToken)
	if err != nil {
		return Result{}, err
	}

	sub.State = model.StateCancelled
	sub.UpdatedBy = p.Actor
	payload := map[string]any{}
	if p.Reason != "" {
		payload["reason"] = p.Reason
	}
	events := []model.IntakeEvent{e.newEvent(sub, model.EventSubmissionCancelled, p.Actor, payload)}
	if err := e.rotateAndSave(ctx, &sub, events); err != nil {
		return Result{}, err
	}
	e.emit(events)

	return e.result(sub, in), nil
}

// RequestUploadParams are the inputs to RequestUpload.
type RequestUploadParams struct {
	ID          string
	ResumeToken string
	Actor       model.Actor
	FieldPath   string
	Filename    string
	ContentType string
}

// UploadResult carries the upload grant alongside the updated submission.
type UploadResult struct {
	Grant      upload.Grant
	Submission model.Submission
}

// RequestUpload issues an upload grant for a file field and parks the
// submission in awaiting_upload.
func (e *Engine) RequestUpload(ctx context.Context, p RequestUploadParams) (UploadResult, error) {
	if e.uploads == nil {
		return UploadResult{}, model.NewConflictError("no upload backend configured")
	}

	sub, _, err := e.loadMutable(ctx, p.ID, p.ResumeToken)
	if err != nil {
		return UploadResult{}, err
	}

	in, _ := e.intakes.Get(sub.IntakeID)
	def, known := fieldDefs(in)[p.FieldPath]
	if !known || !def.IsFile() {
		return UploadResult{}, model.NewBadRequestError(
			fmt.Sprintf("field %q is not a file field of intake %q", p.FieldPath, sub.IntakeID))
	}

	grant, err := e.uploads.GenerateUploadURL(ctx, upload.Params{
		SubmissionID: sub.ID,
		FieldPath:    p.FieldPath,
		Filename:     p.Filename,
		ContentType:  p.ContentType,
	})
	if err != nil {
		return UploadResult{}, err
	}

	if sub.Uploads == nil {
		sub.Uploads = make(map[string]model.UploadRecord)
	}
	sub.Uploads[grant.UploadID] = model.UploadRecord{
		UploadID:    grant.UploadID,
		FieldPath:   p.FieldPath,
		Filename:    p.Filename,
		Status:      model.UploadPending,
		RequestedAt: e.now(),
	}
	sub.State = model.StateAwaitingUpload
	sub.UpdatedBy = p.Actor

	events := []model.IntakeEvent{e.newEvent(sub, model.EventUploadRequested, p.Actor, map[string]any{
		"uploadId": grant.UploadID,
		"field":    p.FieldPath,
	})}
	if err := e.rotateAndSave(ctx, &sub, events); err != nil {
		return UploadResult{}, err
	}
	e.emit(events)

	return UploadResult{Grant: grant, Submission: sub}, nil
}

// ConfirmUploadParams are the inputs to ConfirmUpload.
type ConfirmUploadParams struct {
	ID          string
	ResumeToken string
	Actor       model.Actor
	UploadID    string
}

// ConfirmUpload verifies an upload with the backend and records the outcome.
// Confirmation is per-upload and independent of other uploads, but like any
// mutating call it rotates the resume token.
func (e *Engine) ConfirmUpload(ctx context.Context, p ConfirmUploadParams) (Result, error) {
	sub, in, err := e.loadMutable(ctx, p.ID, p.ResumeToken)
	if err != nil {
		return Result{}, err
	}

	rec, exists := sub.Uploads[p.UploadID]
	if !exists {
		return Result{}, model.NewNotFoundError(
			fmt.Sprintf("upload %q not found on submission %q", p.UploadID, sub.ID))
	}

	status, err := e.uploads.VerifyUpload(ctx, p.UploadID)
	if err != nil {
		return Result{}, err
	}

	var events []model.IntakeEvent
	switch status {
	case upload.StatusCompleted:
		now := e.now()
		rec.Status = model.UploadCompleted
		rec.CompletedAt = &now
		sub.Uploads[p.UploadID] = rec
		sub.State = e.openState(in, sub)
		events = append(events, e.newEvent(sub, model.EventUploadCompleted, p.Actor, map[string]any{
			"uploadId": p.UploadID,
			"field":    rec.FieldPath,
		}))
	case upload.StatusFailed:
		rec.Status = model.UploadFailed
		sub.Uploads[p.UploadID] = rec
		events = append(events, e.newEvent(sub, model.EventUploadFailed, p.Actor, map[string]any{
			"uploadId": p.UploadID,
			"field":    rec.FieldPath,
		}))
	default:
		return Result{}, model.NewConflictError(
			fmt.Sprintf("upload %q has not completed (status %q)", p.UploadID, status))
	}

	sub.UpdatedBy = p.Actor
	if err := e.rotateAndSave(ctx, &sub, events); err != nil {
		return Result{}, err
	}
	e.emit(events)

	return e.result(sub, in), nil
}

// Get returns a submission by ID.
func (e *Engine) Get(ctx context.Context, id string) (model.Submission, error) {
	return e.store.Get(ctx, id)
}

// List returns submissions for an intake.
func (e *Engine) List(ctx context.Context, intakeID string, filters ListFilters) ([]model.Submission, error) {
	if _, ok := e.intakes.Get(intakeID); !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("intake %q not found", intakeID))
	}
	return e.store.List(ctx, intakeID, filters)
}

// GetEvents returns a submission's audit log, filtered.
func (e *Engine) GetEvents(ctx context.Context, id string, filter model.EventFilter) ([]model.IntakeEvent, error) {
	return e.store.GetEvents(ctx, id, filter)
}

// GetAttempts returns a submission's delivery attempts.
func (e *Engine) GetAttempts(ctx context.Context, id string) ([]model.DeliveryAttempt, error) {
	return e.store.GetAttempts(ctx, id)
}

// VerifyToken checks that a presented token is the current one for a live
// submission without mutating anything.
func (e *Engine) VerifyToken(ctx context.Context, id, resumeToken string) (model.Submission, error) {
	sub, err := e.store.Get(ctx, id)
	if err != nil {
		return model.Submission{}, err
	}
	if sub.State == model.StateExpired || sub.ExpiredAt(e.now()) {
		return model.Submission{}, model.NewExpiredError(sub.ID)
	}
	if model.IsTerminalState(sub.State) {
		return model.Submission{}, model.NewConflictError(
			fmt.Sprintf("submission %q is %s", sub.ID, sub.State))
	}
	if !token.Matches(resumeToken, sub.ResumeToken) {
		return model.Submission{}, model.NewInvalidResumeTokenError()
	}
	return sub, nil
}

// HandoffIssued audits issuance of a handoff link. Issuing a link is not a
// state mutation and does not rotate the token.
func (e *Engine) HandoffIssued(ctx context.Context, id string, actor model.Actor) (model.Submission, error) {
	sub, err := e.store.Get(ctx, id)
	if err != nil {
		return model.Submission{}, err
	}
	if model.IsTerminalState(sub.State) {
		return model.Submission{}, model.NewConflictError(
			fmt.Sprintf("submission %q is %s, cannot issue handoff link", sub.ID, sub.State))
	}

	evt := e.newEvent(sub, model.EventHandoffLinkIssued, actor, nil)
	if err := e.store.AppendEvents(ctx, sub.ID, []model.IntakeEvent{evt}); err != nil {
		return model.Submission{}, err
	}
	e.emit([]model.IntakeEvent{evt})
	return sub, nil
}

// HandoffResumed audits a party resuming a submission through a handoff
// link. The embedded token must still be current; a rotated-away token means
// the other party acted first and the link is dead.
func (e *Engine) HandoffResumed(ctx context.Context, id, resumeToken string, actor model.Actor) (model.Submission, error) {
	sub, err := e.store.Get(ctx, id)
	if err != nil {
		return model.Submission{}, err
	}
	if !token.Matches(resumeToken, sub.ResumeToken) {
		return model.Submission{}, model.NewInvalidResumeTokenError()
	}

	evt := e.newEvent(sub, model.EventHandoffResumed, actor, nil)
	if err := e.store.AppendEvents(ctx, sub.ID, []model.IntakeEvent{evt}); err != nil {
		return model.Submission{}, err
	}
	e.emit([]model.IntakeEvent{evt})
	return sub, nil
}

// ProcessExpirations expires every non-terminal submission whose TTL has
// elapsed. Run periodically so abandoned submissions expire without traffic;
// mutating calls also expire lazily.
func (e *Engine) ProcessExpirations(ctx context.Context) error {
	expired, err := e.store.FindExpired(ctx, e.now())
	if err != nil {
		return fmt.Errorf("find expired submissions: %w", err)
	}

	for _, sub := range expired {
		if err := e.expire(ctx, sub); err != nil {
			e.logger.Warn("expiry failed", zap.String("submission_id", sub.ID), zap.Error(err))
		}
	}
	return nil
}

// --- internals ---

// loadMutable fetches a submission and enforces the preconditions shared by
// every mutating operation: the submission exists, is non-terminal, has not
// expired, and the presented token is current. Lazy expiry happens here.
func (e *Engine) loadMutable(ctx context.Context, id, presented string) (model.Submission, model.Intake, error) {
	sub, err := e.store.Get(ctx, id)
	if err != nil {
		return model.Submission{}, model.Intake{}, err
	}

	if sub.State == model.StateExpired {
		return model.Submission{}, model.Intake{}, model.NewExpiredError(sub.ID)
	}
	if model.IsTerminalState(sub.State) {
		return model.Submission{}, model.Intake{}, model.NewConflictError(
			fmt.Sprintf("submission %q is %s", sub.ID, sub.State))
	}
	if sub.ExpiredAt(e.now()) {
		if err := e.expire(ctx, sub); err != nil {
			e.logger.Warn("lazy expiry failed", zap.String("submission_id", sub.ID), zap.Error(err))
		}
		return model.Submission{}, model.Intake{}, model.NewExpiredError(sub.ID)
	}
	if !token.Valid(presented) || !token.Matches(presented, sub.ResumeToken) {
		return model.Submission{}, model.Intake{}, model.NewInvalidResumeTokenError()
	}

	in, ok := e.intakes.Get(sub.IntakeID)
	if !ok {
		return model.Submission{}, model.Intake{}, model.NewNotFoundError(
			fmt.Sprintf("intake %q not found", sub.IntakeID))
	}
	return sub, in, nil
}

// loadReadOnly applies the same checks without triggering lazy expiry writes.
func (e *Engine) loadReadOnly(ctx context.Context, id, presented string) (model.Submission, model.Intake, error) {
	sub, err := e.store.Get(ctx, id)
	if err != nil {
		return model.Submission{}, model.Intake{}, err
	}
	if sub.State == model.StateExpired || sub.ExpiredAt(e.now()) {
		return model.Submission{}, model.Intake{}, model.NewExpiredError(sub.ID)
	}
	if model.IsTerminalState(sub.State) {
		return model.Submission{}, model.Intake{}, model.NewConflictError(
			fmt.Sprintf("submission %q is %s", sub.ID, sub.State))
	}
	if !token.Valid(presented) || !token.Matches(presented, sub.ResumeToken) {
		return model.Submission{}, model.Intake{}, model.NewInvalidResumeTokenError()
	}

	in, ok := e.intakes.Get(sub.IntakeID)
	if !ok {
		return model.Submission{}, model.Intake{}, model.NewNotFoundError(
			fmt.Sprintf("intake %q not found", sub.IntakeID))
	}
	return sub, in, nil
}

// loadReview is loadMutable narrowed to needs_review.
func (e *Engine) loadReview(ctx context.Context, id, presented string) (model.Submission, model.Intake, error) {
	sub, in, err := e.loadMutable(ctx, id, presented)
	if err != nil {
		return model.Submission{}, model.Intake{}, err
	}
	if sub.State != model.StateNeedsReview {
		return model.Submission{}, model.Intake{}, model.NewConflictError(
			fmt.Sprintf("submission %q is %s, review decisions require needs_review", sub.ID, sub.State))
	}
	return sub, in, nil
}

// expire moves a submission to the terminal expired state. A version
// conflict means another actor got there first and is not an error.
func (e *Engine) expire(ctx context.Context, sub model.Submission) error {
	tok, err := token.New()
	if err != nil {
		return err
	}
	sub.ResumeToken = tok
	sub.State = model.StateExpired
	sub.UpdatedBy = model.SystemActor()
	sub.UpdatedAt = e.now()

	events := []model.IntakeEvent{e.newEvent(sub, model.EventSubmissionExpired, model.SystemActor(), nil)}
	if err := e.store.Save(ctx, sub, events); err != nil {
		return err
	}
	e.emit(events)
	return nil
}

// rotateAndSave mints the next token and persists the submission with its
// events as one unit.
func (e *Engine) rotateAndSave(ctx context.Context, sub *model.Submission, events []model.IntakeEvent) error {
	tok, err := token.New()
	if err != nil {
		return err
	}
	sub.ResumeToken = tok
	sub.UpdatedAt = e.now()

	if err := e.store.Save(ctx, *sub, events); err != nil {
		return err
	}
	sub.Version++
	return nil
}

// openState recomputes the non-terminal working state from the condition
// evaluator's output. A submission stays draft until its first accepted
// field set.
func (e *Engine) openState(in model.Intake, sub model.Submission) string {
	missingFields, missingUploads := condition.Missing(in.Fields, sub.Fields, sub.Uploads)
	switch {
	case len(missingUploads) > 0:
		return model.StateAwaitingUpload
	case len(missingFields) > 0:
		return model.StateAwaitingInput
	default:
		return model.StateInProgress
	}
}

// buildReport runs readiness and type checks for validate and submit.
func (e *Engine) buildReport(in model.Intake, sub model.Submission) ValidationReport {
	missingFields, missingUploads := condition.Missing(in.Fields, sub.Fields, sub.Uploads)

	var errs []model.FieldError
	for _, def := range in.Fields {
		st := condition.EvaluateField(def, sub.Fields)
		if !st.ValidationEnabled {
			continue
		}
		v, ok := sub.Fields[def.Path]
		if !ok || v == nil {
			continue
		}
		if !typeMatches(def.Type, v) {
			errs = append(errs, model.FieldError{
				Field:   def.Path,
				Code:    "type_mismatch",
				Message: fmt.Sprintf("expected %s", def.Type),
			})
		}
	}

	return ValidationReport{
		Ready:          len(missingFields) == 0 && len(missingUploads) == 0 && len(errs) == 0,
		MissingFields:  missingFields,
		MissingUploads: missingUploads,
		Errors:         errs,
	}
}

func (e *Engine) newEvent(sub model.Submission, typ string, actor model.Actor, payload map[string]any) model.IntakeEvent {
	if len(payload) == 0 {
		payload = nil
	}
	return model.IntakeEvent{
		EventID:      uuid.New().String(),
		Type:         typ,
		SubmissionID: sub.ID,
		Timestamp:    e.now(),
		Actor:        actor,
		State:        sub.State,
		Payload:      payload,
	}
}

func (e *Engine) emit(events []model.IntakeEvent) {
	for _, evt := range events {
		e.sink.Emit(evt)
	}
}

func (e *Engine) result(sub model.Submission, in model.Intake) Result {
	missingFields, missingUploads := condition.Missing(in.Fields, sub.Fields, sub.Uploads)
	return Result{
		Submission:    sub,
		MissingFields: append(missingFields, missingUploads...),
	}
}

func fieldDefs(in model.Intake) map[string]model.FieldDefinition {
	defs := make(map[string]model.FieldDefinition, len(in.Fields))
	for _, f := range in.Fields {
		defs[f.Path] = f
	}
	return defs
}

func fieldKeys(fields map[string]any) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	return keys
}

func commentPayload(comment string) map[string]any {
	if comment == "" {
		return nil
	}
	return map[string]any{"comment": comment}
}

func typeMatches(fieldType string, v any) bool {
	switch fieldType {
	case model.FieldTypeString:
		_, ok := v.(string)
		return ok
	case model.FieldTypeNumber:
		switch v.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case model.FieldTypeBoolean:
		_, ok := v.(bool)
		return ok
	default:
		return true
	}
}
