package oauth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/oauth2"
)

// stateBytes is the number of random bytes behind an OAuth state value.
// Hex encoding yields a 32 character string.
const stateBytes = 16

// GeneratePKCE generates a new S256 PKCE code verifier and challenge.
// The verifier carries 256 bits of entropy, base64url-encoded without padding.
func GeneratePKCE() *PKCEChallenge {
	verifier := oauth2.GenerateVerifier()
	return &PKCEChallenge{
		CodeVerifier:        verifier,
		CodeChallenge:       ChallengeFromVerifier(verifier),
		CodeChallengeMethod: "S256",
	}
}

// ChallengeFromVerifier returns BASE64URL(SHA256(verifier)) with no padding.
func ChallengeFromVerifier(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// GenerateState generates a random CSRF state parameter: 16 random bytes, hex-encoded.
func GenerateState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}
