package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/formbridge/formbridge/internal/config"
	"github.com/formbridge/formbridge/internal/delivery"
	"github.com/formbridge/formbridge/internal/intake"
	"github.com/formbridge/formbridge/internal/observability"
	"github.com/formbridge/formbridge/internal/submission"
	"github.com/formbridge/formbridge/internal/upload"
	"github.com/formbridge/formbridge/model"
)

func routerIntake() model.Intake {
	return model.Intake{
		ID:   "vendor-onboarding",
		Name: "Vendor Onboarding",
		Fields: []model.FieldDefinition{
			{Path: "name", Type: model.FieldTypeString, Required: true},
			{Path: "country", Type: model.FieldTypeString, Required: true},
			{Path: "contract", Type: model.FieldTypeFile},
		},
		ApprovalGates: []model.ApprovalGate{
			{ID: "finance", Name: "Finance Review", When: "country != 'US'"},
		},
		Webhook: model.WebhookConfig{URL: "http://unused.invalid/hook", Secret: "s3cret"},
	}
}

type routerFixture struct {
	router  chi.Router
	store   *submission.MemoryStore
	uploads *upload.MemoryBackend
}

func newTestRouter(t *testing.T, keys ...string) *routerFixture {
	t.Helper()

	cfg := config.Defaults()
	cfg.Observability.Metrics.Enabled = false
	cfg.Observability.Tracing.Enabled = false

	store := submission.NewMemoryStore()
	uploads := upload.NewMemoryBackend("")
	reg := intake.NewRegistry([]model.Intake{routerIntake()})

	engine := submission.NewEngine(reg, store, submission.WithUploadBackend(uploads))
	deliverer := delivery.NewEngine(store, reg, model.DeliveryPolicy{
		MaxAttempts:  1,
		InitialDelay: time.Millisecond,
	})
	t.Cleanup(func() { deliverer.Shutdown(context.Background()) })

	router := NewRouter(Dependencies{
		Config:   cfg,
		Logger:   zap.NewNop(),
		Engine:   engine,
		Delivery: deliverer,
		Intakes:  reg,
		Handoff:  NewHandoffSigner("test-secret", time.Hour, ""),
		Readiness: observability.ReadinessChecks{
			IntakesLoaded: func() bool { return true },
		},
		APIKeys: keys,
	})

	return &routerFixture{router: router, store: store, uploads: uploads}
}

func (f *routerFixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return out
}

// createSubmission posts a create request and returns the submission ID and
// resume token.
func (f *routerFixture) createSubmission(t *testing.T, fields map[string]any) (string, string) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/intake/vendor-onboarding/submissions", map[string]any{
		"fields": fields,
		"actor":  map[string]any{"kind": "agent", "id": "agent-1"},
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	return body["submissionId"].(string), body["resumeToken"].(string)
}

func errorType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, rec)
	env, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error envelope in %s", rec.Body.String())
	}
	typ, _ := env["type"].(string)
	return typ
}

func TestCreateSubmissionOverHTTP(t *testing.T) {
	f := newTestRouter(t)

	rec := f.do(t, http.MethodPost, "/intake/vendor-onboarding/submissions", map[string]any{
		"fields": map[string]any{"name": "Acme"},
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["state"] != model.StateDraft {
		t.Errorf("state = %v, want draft", body["state"])
	}
	if tok, _ := body["resumeToken"].(string); tok == "" {
		t.Error("create response missing resume token")
	}
	missing, _ := body["missingFields"].([]any)
	if len(missing) != 1 || missing[0] != "country" {
		t.Errorf("missingFields = %v, want [country]", missing)
	}
	meta, _ := body["metadata"].(map[string]any)
	if meta == nil || meta["createdAt"] == nil {
		t.Errorf("metadata = %v", body["metadata"])
	}
}

func TestCreateSubmissionUnknownIntake(t *testing.T) {
	f := newTestRouter(t)

	rec := f.do(t, http.MethodPost, "/intake/nope/submissions", map[string]any{}, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGetSubmissionOmitsToken(t *testing.T) {
	f := newTestRouter(t)
	id, _ := f.createSubmission(t, map[string]any{"name": "Acme"})

	rec := f.do(t, http.MethodGet, "/intake/vendor-onboarding/submissions/"+id, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if _, present := body["resumeToken"]; present {
		t.Error("read path echoed the resume token")
	}
}

func TestPatchRotatesAndStaleTokenConflicts(t *testing.T) {
	f := newTestRouter(t)
	id, tok := f.createSubmission(t, map[string]any{"name": "Acme"})
	path := "/intake/vendor-onboarding/submissions/" + id

	rec := f.do(t, http.MethodPatch, path, map[string]any{
		"resumeToken": tok,
		"fields":      map[string]any{"country": "US"},
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["resumeToken"] == tok {
		t.Error("patch did not rotate the token")
	}
	if body["state"] != model.StateInProgress {
		t.Errorf("state = %v, want in_progress", body["state"])
	}

	rec = f.do(t, http.MethodPatch, path, map[string]any{
		"resumeToken": tok,
		"fields":      map[string]any{"country": "DE"},
	}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("stale token status = %d, want 409", rec.Code)
	}
	if errorType(t, rec) != model.ErrTypeInvalidResumeToken {
		t.Errorf("error type = %q", errorType(t, rec))
	}
}

func TestPatchRequiresFields(t *testing.T) {
	f := newTestRouter(t)
	id, tok := f.createSubmission(t, nil)

	rec := f.do(t, http.MethodPatch, "/intake/vendor-onboarding/submissions/"+id, map[string]any{
		"resumeToken": tok,
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestValidateEndpoint(t *testing.T) {
	f := newTestRouter(t)
	id, tok := f.createSubmission(t, map[string]any{"name": "Acme"})

	rec := f.do(t, http.MethodPost, "/intake/vendor-onboarding/submissions/"+id+"/validate", map[string]any{
		"resumeToken": tok,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["ready"] != false {
		t.Errorf("ready = %v, want false", body["ready"])
	}
}

func TestSubmitNotReadyReturns422(t *testing.T) {
	f := newTestRouter(t)
	id, tok := f.createSubmission(t, map[string]any{"name": "Acme"})

	rec := f.do(t, http.MethodPost, "/intake/vendor-onboarding/submissions/"+id+"/submit", map[string]any{
		"resumeToken": tok,
	}, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", rec.Code, rec.Body.String())
	}
	if errorType(t, rec) != model.ErrTypeValidationFailed {
		t.Errorf("error type = %q", errorType(t, rec))
	}
}

func TestSubmitReadyReturns200(t *testing.T) {
	f := newTestRouter(t)
	id, tok := f.createSubmission(t, map[string]any{"name": "Acme", "country": "US"})

	rec := f.do(t, http.MethodPost, "/intake/vendor-onboarding/submissions/"+id+"/submit", map[string]any{
		"resumeToken": tok,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["ok"] != true {
		t.Errorf("ok = %v", body["ok"])
	}
	sub, _ := body["submission"].(map[string]any)
	if sub["state"] != model.StateSubmitted {
		t.Errorf("state = %v, want submitted", sub["state"])
	}
}

func TestSubmitGatedReturns202(t *testing.T) {
	f := newTestRouter(t)
	id, tok := f.createSubmission(t, map[string]any{"name": "Acme", "country": "DE"})

	rec := f.do(t, http.MethodPost, "/intake/vendor-onboarding/submissions/"+id+"/submit", map[string]any{
		"resumeToken": tok,
	}, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["ok"] != false {
		t.Errorf("ok = %v, want false", body["ok"])
	}
	sub, _ := body["submission"].(map[string]any)
	if sub["state"] != model.StateNeedsReview {
		t.Errorf("state = %v, want needs_review", sub["state"])
	}
	env, _ := body["error"].(map[string]any)
	if env["type"] != model.ErrTypeNeedsApproval {
		t.Errorf("error = %v, want needs_approval", body["error"])
	}
}

func TestReviewEndpoints(t *testing.T) {
	f := newTestRouter(t)
	id, tok := f.createSubmission(t, map[string]any{"name": "Acme", "country": "DE"})
	base := "/intake/vendor-onboarding/submissions/" + id

	rec := f.do(t, http.MethodPost, base+"/submit", map[string]any{"resumeToken": tok}, nil)
	parked := decodeBody(t, rec)
	sub, _ := parked["submission"].(map[string]any)
	reviewTok, _ := sub["resumeToken"].(string)

	rec = f.do(t, http.MethodPost, base+"/request-changes", map[string]any{
		"resumeToken": reviewTok,
		"comments":    map[string]string{"country": "confirm jurisdiction"},
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("request-changes status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["state"] != model.StateInProgress {
		t.Errorf("state = %v, want in_progress", body["state"])
	}

	// Resubmit and approve.
	tok2, _ := body["resumeToken"].(string)
	rec = f.do(t, http.MethodPost, base+"/submit", map[string]any{"resumeToken": tok2}, nil)
	sub, _ = decodeBody(t, rec)["submission"].(map[string]any)
	reviewTok, _ = sub["resumeToken"].(string)

	rec = f.do(t, http.MethodPost, base+"/approve", map[string]any{
		"resumeToken": reviewTok,
		"actor":       map[string]any{"id": "reviewer-7"},
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve status = %d: %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["state"] != model.StateApproved {
		t.Errorf("state after approve = %v", decodeBody(t, rec)["state"])
	}
}

func TestCancelEndpoint(t *testing.T) {
	f := newTestRouter(t)
	id, tok := f.createSubmission(t, nil)

	rec := f.do(t, http.MethodPost, "/intake/vendor-onboarding/submissions/"+id+"/cancel", map[string]any{
		"resumeToken": tok,
		"reason":      "duplicate",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["state"] != model.StateCancelled {
		t.Error("submission not cancelled")
	}
}

func TestEventsEndpoint(t *testing.T) {
	f := newTestRouter(t)
	id, tok := f.createSubmission(t, map[string]any{"name": "Acme"})
	base := "/intake/vendor-onboarding/submissions/" + id

	f.do(t, http.MethodPatch, base, map[string]any{
		"resumeToken": tok,
		"fields":      map[string]any{"country": "US"},
	}, nil)

	rec := f.do(t, http.MethodGet, base+"/events", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	data, _ := decodeBody(t, rec)["data"].([]any)
	if len(data) != 2 {
		t.Errorf("events = %d, want 2 (created + field.updated)", len(data))
	}

	rec = f.do(t, http.MethodGet, base+"/events?types="+model.EventFieldUpdated, nil, nil)
	data, _ = decodeBody(t, rec)["data"].([]any)
	if len(data) != 1 {
		t.Errorf("filtered events = %d, want 1", len(data))
	}

	rec = f.do(t, http.MethodGet, base+"/events?since=banana", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad since status = %d, want 400", rec.Code)
	}

	rec = f.do(t, http.MethodGet, base+"/events/export", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d", rec.Code)
	}
	export := decodeBody(t, rec)
	if export["submissionId"] != id || export["events"] == nil {
		t.Errorf("export = %v", export)
	}
}

func TestEventsExportNDJSON(t *testing.T) {
	f := newTestRouter(t)
	id, tok := f.createSubmission(t, map[string]any{"name": "Acme"})
	base := "/intake/vendor-onboarding/submissions/" + id

	f.do(t, http.MethodPatch, base, map[string]any{
		"resumeToken": tok,
		"fields":      map[string]any{"country": "US"},
	}, nil)

	rec := f.do(t, http.MethodGet, base+"/events/export?format=ndjson", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("Content-Type = %q, want application/x-ndjson", ct)
	}

	lines := strings.Split(strings.TrimRight(rec.Body.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("export has %d lines, want 2 (created + field.updated): %q", len(lines), lines)
	}
	for i, line := range lines {
		var evt map[string]any
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			t.Fatalf("line %d is not a JSON object: %v", i, err)
		}
		if evt["type"] == "" {
			t.Errorf("line %d has no event type: %s", i, line)
		}
	}
}

func TestUploadEndpoints(t *testing.T) {
	f := newTestRouter(t)
	id, tok := f.createSubmission(t, map[string]any{"name": "Acme", "country": "US"})
	base := "/intake/vendor-onboarding/submissions/" + id

	rec := f.do(t, http.MethodPost, base+"/uploads", map[string]any{
		"resumeToken": tok,
		"field":       "contract",
		"filename":    "contract.pdf",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload request status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	grant, _ := body["upload"].(map[string]any)
	uploadID, _ := grant["uploadId"].(string)
	if uploadID == "" || grant["url"] == "" {
		t.Fatalf("grant = %v", grant)
	}
	sub, _ := body["submission"].(map[string]any)
	if sub["state"] != model.StateAwaitingUpload {
		t.Errorf("state = %v, want awaiting_upload", sub["state"])
	}
	tok, _ = sub["resumeToken"].(string)

	// Confirm before completion conflicts.
	rec = f.do(t, http.MethodPost, base+"/uploads/"+uploadID+"/confirm", map[string]any{
		"resumeToken": tok,
	}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("premature confirm status = %d, want 409", rec.Code)
	}

	f.uploads.Complete(uploadID)
	rec = f.do(t, http.MethodPost, base+"/uploads/"+uploadID+"/confirm", map[string]any{
		"resumeToken": tok,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm status = %d: %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["state"] != model.StateInProgress {
		t.Errorf("state = %v, want in_progress", decodeBody(t, rec)["state"])
	}

	rec = f.do(t, http.MethodPost, base+"/uploads", map[string]any{"resumeToken": tok}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("upload without field status = %d, want 400", rec.Code)
	}
}

func TestDeliveryEndpoints(t *testing.T) {
	f := newTestRouter(t)
	id, _ := f.createSubmission(t, nil)
	base := "/intake/vendor-onboarding/submissions/" + id

	rec := f.do(t, http.MethodGet, base+"/deliveries", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	data, ok := decodeBody(t, rec)["data"].([]any)
	if !ok || len(data) != 0 {
		t.Errorf("deliveries = %v, want empty list", data)
	}

	// Retry on a draft is a conflict: nothing to deliver.
	rec = f.do(t, http.MethodPost, base+"/deliveries/retry", nil, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("retry on draft status = %d, want 409", rec.Code)
	}
}

func TestIntakeEndpoints(t *testing.T) {
	f := newTestRouter(t)

	rec := f.do(t, http.MethodGet, "/intake", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	data, _ := decodeBody(t, rec)["data"].([]any)
	if len(data) != 1 || data[0] != "vendor-onboarding" {
		t.Errorf("data = %v", data)
	}

	rec = f.do(t, http.MethodGet, "/intake/vendor-onboarding", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["id"] != "vendor-onboarding" {
		t.Errorf("body = %v", body)
	}
	if wh, _ := body["webhook"].(map[string]any); wh["secret"] != nil {
		t.Error("webhook secret leaked in intake response")
	}

	rec = f.do(t, http.MethodGet, "/intake/nope", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListSubmissions(t *testing.T) {
	f := newTestRouter(t)
	f.createSubmission(t, nil)
	f.createSubmission(t, nil)

	rec := f.do(t, http.MethodGet, "/intake/vendor-onboarding/submissions?limit=1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	data, _ := body["data"].([]any)
	if len(data) != 1 {
		t.Fatalf("data = %d items, want 1", len(data))
	}
	if body["limit"] != float64(1) {
		t.Errorf("limit = %v", body["limit"])
	}

	// List items are summaries: identity and timestamps, no token, no fields.
	item, _ := data[0].(map[string]any)
	if id, _ := item["submissionId"].(string); id == "" {
		t.Errorf("item missing submissionId: %v", item)
	}
	if item["intakeId"] != "vendor-onboarding" {
		t.Errorf("item = %v", item)
	}
	if _, present := item["resumeToken"]; present {
		t.Error("list view leaked a resume token")
	}
	if _, present := item["fields"]; present {
		t.Error("list view carries field values")
	}
}

func TestAPIKeyAuth(t *testing.T) {
	f := newTestRouter(t, "key-1", "key-2")

	rec := f.do(t, http.MethodGet, "/intake", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/intake", nil, map[string]string{"Authorization": "Bearer wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key status = %d, want 401", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/intake", nil, map[string]string{"Authorization": "Bearer key-2"})
	if rec.Code != http.StatusOK {
		t.Errorf("valid key status = %d, want 200", rec.Code)
	}

	// Health bypasses auth.
	rec = f.do(t, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}
}

func TestHealthAndReady(t *testing.T) {
	f := newTestRouter(t)

	rec := f.do(t, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/ready", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("ready status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRequestIDPropagates(t *testing.T) {
	f := newTestRouter(t)

	rec := f.do(t, http.MethodGet, "/health", nil, map[string]string{"X-Correlation-Id": "corr-1"})
	if got := rec.Header().Get("X-Correlation-Id"); got != "corr-1" {
		t.Errorf("X-Correlation-Id = %q, want corr-1", got)
	}

	rec = f.do(t, http.MethodGet, "/health", nil, nil)
	if rec.Header().Get("X-Correlation-Id") == "" {
		t.Error("no correlation ID generated")
	}
}
