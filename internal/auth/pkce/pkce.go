// Package pkce provides OAuth2 PKCE (Proof Key for Code Exchange) code generation
// for native authorization code flows, as specified in RFC 7636.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

// MethodS256 is the only challenge method produced by this package.
const MethodS256 = "S256"

// verifierBytes yields a 128 character verifier once base64url encoded.
const verifierBytes = 96

// Codes holds a PKCE verifier and its derived challenge for a single
// authorization attempt. The verifier must stay local; only the challenge is sent
// with the authorization request.
type Codes struct {
	// Verifier is the high-entropy secret presented during the token exchange.
	Verifier string
	// Challenge is the base64url SHA-256 digest of Verifier, without padding.
	Challenge string
	// Method is always MethodS256.
	Method string
}

// Generate creates a fresh verifier and challenge pair.
// Each authorization attempt must call Generate again; codes are never reused.
func Generate() Codes {
	buf := make([]byte, verifierBytes)
	// crypto/rand.Read never returns an error and always fills buf.
	_, _ = rand.Read(buf)

	verifier := base64.RawURLEncoding.EncodeToString(buf)
	return Codes{
		Verifier:  verifier,
		Challenge: Challenge(verifier),
		Method:    MethodS256,
	}
}

// Challenge derives the S256 code challenge for verifier.
func Challenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// String hides the verifier so codes can be logged safely.
func (c Codes) String() string {
	return "pkce{method=" + c.Method + " challenge=" + c.Challenge + "}"
}
