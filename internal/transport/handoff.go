package transport

import (
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/formbridge/formbridge/model"
)

// handoffClaims are the claims embedded in a signed handoff link. The resume
// token travels inside the signature so a forwarded link is exactly as
// powerful as the token it wraps: once the token rotates, the link is dead.
type handoffClaims struct {
	ResumeToken string `json:"resumeToken"`
	jwt.RegisteredClaims
}

// HandoffSigner mints and verifies the signed tokens behind handoff links.
type HandoffSigner struct {
	secret  []byte
	linkTTL time.Duration
	baseURL string
	now     func() time.Time
}

// NewHandoffSigner creates a signer. baseURL is the externally reachable
// prefix that links are built on, for example "https://forms.example.com/resume".
func NewHandoffSigner(secret string, linkTTL time.Duration, baseURL string) *HandoffSigner {
	if linkTTL <= 0 {
		linkTTL = 24 * time.Hour
	}
	return &HandoffSigner{
		secret:  []byte(secret),
		linkTTL: linkTTL,
		baseURL: baseURL,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// IssueLink returns a URL embedding a signed handoff token for a submission.
func (s *HandoffSigner) IssueLink(submissionID, resumeToken string) (string, error) {
	signed, err := s.Sign(submissionID, resumeToken)
	if err != nil {
		return "", err
	}
	if s.baseURL == "" {
		return signed, nil
	}
	return fmt.Sprintf("%s?token=%s", s.baseURL, url.QueryEscape(signed)), nil
}

// Sign mints a signed handoff token.
func (s *HandoffSigner) Sign(submissionID, resumeToken string) (string, error) {
	now := s.now()
	claims := handoffClaims{
		ResumeToken: resumeToken,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   submissionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.linkTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign handoff token: %w", err)
	}
	return signed, nil
}

// Verify parses a handoff token and returns the submission ID and embedded
// resume token. Expired or tampered tokens fail with unauthorized.
func (s *HandoffSigner) Verify(tokenString string) (submissionID, resumeToken string, err error) {
	claims := &handoffClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return "", "", model.NewUnauthorizedError("handoff link is invalid or expired")
	}
	if claims.Subject == "" || claims.ResumeToken == "" {
		return "", "", model.NewUnauthorizedError("handoff link is malformed")
	}
	return claims.Subject, claims.ResumeToken, nil
}
