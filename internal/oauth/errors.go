package oauth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
)

var (
	// ErrNoAuthorizationServer is returned when discovery could derive
	// neither an issuer nor an authorization endpoint.
	ErrNoAuthorizationServer = errors.New("no authorization server could be discovered")

	// ErrStateNotFound is returned for unknown, consumed or expired states.
	ErrStateNotFound = errors.New("oauth state not found or expired")

	// ErrReauthRequired means stored credentials are unusable and the user
	// must authorize again.
	ErrReauthRequired = errors.New("re-authorization required")
)

// TokenRefreshError reports a conclusive refresh failure. The server's
// tokens have been cleared by the time it is returned.
type TokenRefreshError struct {
	ServerID string
	// Code is the OAuth error code, e.g. invalid_grant.
	Code string
	Err  error
}

func (e *TokenRefreshError) Error() string {
	return fmt.Sprintf("token refresh for server %s failed (%s): %v", e.ServerID, e.Code, e.Err)
}

func (e *TokenRefreshError) Unwrap() error { return e.Err }

// Is lets callers test for ErrReauthRequired.
func (e *TokenRefreshError) Is(target error) bool {
	return target == ErrReauthRequired
}

// oauthErrorCode extracts the RFC 6749 error code from a token endpoint
// failure. "Client not found" bodies are reported as invalid_client.
func oauthErrorCode(err error) string {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return ""
	}
	if re.ErrorCode != "" {
		return re.ErrorCode
	}
	if strings.Contains(strings.ToLower(string(re.Body)), "client not found") {
		return "invalid_client"
	}
	return ""
}

// isConclusive reports whether a token endpoint failure means the grant or
// the client can never succeed as-is.
func isConclusive(code string) bool {
	return code == "invalid_grant" || code == "invalid_client"
}
