// Package delivery pushes finalized submission payloads to the intake's
// webhook endpoint with signed requests and bounded retries.
package delivery

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Headers attached to every delivery request.
const (
	SignatureHeader    = "X-Signature"
	DeliveryIDHeader   = "X-Delivery-Id"
	SubmissionIDHeader = "X-Submission-Id"
)

// Signer computes the webhook request signature: a hex-encoded HMAC-SHA256
// of the raw request body keyed with the intake's webhook secret.
type Signer struct {
	secret []byte
}

// NewSigner creates a signer for one webhook secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign returns the signature for a request body.
func (s *Signer) Sign(body []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether a presented hex signature matches the body. Used by
// receiver-side tests and by consumers embedding this package.
func (s *Signer) Verify(body []byte, presentedHex string) bool {
	presented, err := hex.DecodeString(presentedHex)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), presented)
}
