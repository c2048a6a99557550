// Package pkce generates the PKCE (Proof Key for Code Exchange) material used
// by the Softcodes OAuth flow. It produces the code verifier and challenge
// pair specified by RFC 7636 along with the random state parameter that binds
// the authorization callback to the flow that initiated it.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// Codes holds a PKCE code verifier and its derived S256 challenge.
type Codes struct {
	// CodeVerifier is the random secret held by the client until token exchange.
	CodeVerifier string `json:"code_verifier"`

	// CodeChallenge is the SHA-256 hash of the verifier, sent with the
	// authorization request.
	CodeChallenge string `json:"code_challenge"`
}

// GenerateCodes generates a PKCE code verifier and challenge pair following
// RFC 7636. Only the client that generated the verifier can later exchange
// the authorization code, which defeats code interception attacks.
func GenerateCodes() (*Codes, error) {
	codeVerifier, err := generateCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}

	return &Codes{
		CodeVerifier:  codeVerifier,
		CodeChallenge: GenerateCodeChallenge(codeVerifier),
	}, nil
}

// GenerateState generates a cryptographically random state parameter used for
// CSRF binding on the OAuth callback. The state is independent of the PKCE
// verifier and doubles as the lookup key for the pending authentication entry.
func GenerateState() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(bytes), nil
}

// generateCodeVerifier creates a cryptographically random string
// of 128 characters using URL-safe base64 encoding
func generateCodeVerifier() (string, error) {
	// Generate 96 random bytes (will result in 128 base64 characters)
	bytes := make([]byte, 96)
	_, err := rand.Read(bytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	// Encode to URL-safe base64 without padding
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(bytes), nil
}

// GenerateCodeChallenge creates a SHA256 hash of the code verifier and encodes
// it using URL-safe base64 encoding without padding. The challenge is a pure
// function of the verifier.
func GenerateCodeChallenge(codeVerifier string) string {
	hash := sha256.Sum256([]byte(codeVerifier))
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(hash[:])
}
