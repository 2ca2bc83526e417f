package transport

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/formbridge/formbridge/model"
)

func TestHandoffSignerRoundTrip(t *testing.T) {
	s := NewHandoffSigner("test-secret", time.Hour, "")

	signed, err := s.Sign("sub-1", "fbrt_token")
	if err != nil {
		t.Fatalf("Sign error: %v", err)
	}

	id, tok, err := s.Verify(signed)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if id != "sub-1" || tok != "fbrt_token" {
		t.Errorf("Verify = (%q, %q)", id, tok)
	}
}

func TestHandoffSignerRejections(t *testing.T) {
	s := NewHandoffSigner("test-secret", time.Hour, "")
	signed, err := s.Sign("sub-1", "fbrt_token")
	if err != nil {
		t.Fatal(err)
	}

	check := func(name, token string) {
		t.Helper()
		_, _, err := s.Verify(token)
		var env *model.ErrorEnvelope
		if !errors.As(err, &env) || env.Type != model.ErrTypeUnauthorized {
			t.Errorf("%s: error = %v, want unauthorized", name, err)
		}
	}

	check("garbage", "not-a-jwt")
	check("tampered", signed+"x")

	other, _ := NewHandoffSigner("other-secret", time.Hour, "").Sign("sub-1", "fbrt_token")
	check("wrong secret", other)
}

func TestHandoffSignerExpiredLink(t *testing.T) {
	s := NewHandoffSigner("test-secret", time.Hour, "")
	s.now = func() time.Time { return time.Now().UTC().Add(-2 * time.Hour) }
	signed, err := s.Sign("sub-1", "fbrt_token")
	if err != nil {
		t.Fatal(err)
	}

	s.now = func() time.Time { return time.Now().UTC() }
	if _, _, err := s.Verify(signed); err == nil {
		t.Error("expired link accepted")
	}
}

func TestHandoffIssueLinkBuildsURL(t *testing.T) {
	s := NewHandoffSigner("test-secret", time.Hour, "https://forms.example.com/resume")

	link, err := s.IssueLink("sub-1", "fbrt_token")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(link, "https://forms.example.com/resume?token=") {
		t.Errorf("link = %q", link)
	}
}

func TestHandoffOverHTTP(t *testing.T) {
	f := newTestRouter(t)
	id, tok := f.createSubmission(t, map[string]any{"name": "Acme"})
	base := "/intake/vendor-onboarding/submissions/" + id

	rec := f.do(t, http.MethodPost, base+"/handoff", map[string]any{
		"resumeToken": tok,
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("handoff status = %d: %s", rec.Code, rec.Body.String())
	}
	link, _ := decodeBody(t, rec)["link"].(string)
	if link == "" {
		t.Fatal("no link in handoff response")
	}

	// The fixture signer has no base URL, so the link is the raw token.
	rec = f.do(t, http.MethodPost, "/handoff/resume", map[string]any{
		"token": link,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resume status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["submissionId"] != id {
		t.Errorf("submissionId = %v", body["submissionId"])
	}
	if rt, _ := body["resumeToken"].(string); rt != tok {
		t.Errorf("resume returned token %q, want the current one", rt)
	}

	// A mutation rotates the token and kills the link.
	f.do(t, http.MethodPatch, base, map[string]any{
		"resumeToken": tok,
		"fields":      map[string]any{"country": "US"},
	}, nil)

	rec = f.do(t, http.MethodPost, "/handoff/resume", map[string]any{"token": link}, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("resume with dead link status = %d, want 409", rec.Code)
	}
}

func TestHandoffIssueRequiresCurrentToken(t *testing.T) {
	f := newTestRouter(t)
	id, _ := f.createSubmission(t, nil)

	rec := f.do(t, http.MethodPost, "/intake/vendor-onboarding/submissions/"+id+"/handoff", map[string]any{
		"resumeToken": "fbrt_wrong",
	}, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("handoff with wrong token status = %d, want 409", rec.Code)
	}
}

func TestHandoffResumeRequiresToken(t *testing.T) {
	f := newTestRouter(t)

	rec := f.do(t, http.MethodPost, "/handoff/resume", map[string]any{}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/handoff/resume", map[string]any{"token": "garbage"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
