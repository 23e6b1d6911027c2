package authcode

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
)

// generateState returns a fresh CSRF state for one authorization attempt.
func generateState() string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// stateMatches compares the redirect state with the expected one in constant time.
func stateMatches(expected, received string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(received)) == 1
}
