// Package token issues and checks resume tokens. A resume token is an opaque
// bearer credential authorizing exactly one further mutation of a submission;
// the engine rotates it on every accepted mutating operation, which is the
// sole concurrency-control and replay-prevention mechanism.
package token

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// Prefix identifies resume tokens in logs and payloads without revealing
// anything about their contents.
const Prefix = "fbrt_"

const randomBytes = 32

// New returns a freshly minted resume token.
func New() (string, error) {
	buf := make([]byte, randomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token: read random: %w", err)
	}
	return Prefix + hex.EncodeToString(buf), nil
}

// Matches reports whether the presented token equals the stored current
// token. Comparison is constant-time.
func Matches(presented, current string) bool {
	if presented == "" || current == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(current)) == 1
}

// Valid reports whether a string is shaped like a resume token. It says
// nothing about whether the token is current.
func Valid(s string) bool {
	if !strings.HasPrefix(s, Prefix) {
		return false
	}
	raw := strings.TrimPrefix(s, Prefix)
	if len(raw) != randomBytes*2 {
		return false
	}
	_, err := hex.DecodeString(raw)
	return err == nil
}
