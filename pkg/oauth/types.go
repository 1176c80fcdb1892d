package oauth

import (
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Origin returns scheme://host for a URL, or "" if it cannot be parsed.
func Origin(rawURL string) string {
	u, err := parseHTTPURL(rawURL)
	if err != nil {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// Token represents an OAuth access token with associated metadata.
type Token struct {
	// AccessToken is the bearer token used for authorization.
	AccessToken string `json:"access_token"`

	// TokenType is typically "Bearer".
	TokenType string `json:"token_type,omitempty"`

	// RefreshToken is used to obtain new access tokens (optional).
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresIn is the token lifetime in seconds (from token response).
	ExpiresIn int `json:"expires_in,omitempty"`

	// ExpiresAt is the calculated expiration timestamp.
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	// Scope is the granted scope(s), space-separated.
	Scope string `json:"scope,omitempty"`
}

// ToOAuth2Token converts the Token for use with golang.org/x/oauth2.
func (t *Token) ToOAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.ExpiresAt,
	}
}

// FromOAuth2Token converts a golang.org/x/oauth2 token. The refresh token
// falls back to previousRefresh when the server did not rotate it.
func FromOAuth2Token(tok *oauth2.Token, previousRefresh string) *Token {
	if tok == nil {
		return nil
	}
	out := &Token{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		ExpiresIn:    int(tok.ExpiresIn),
	}
	if out.RefreshToken == "" {
		out.RefreshToken = previousRefresh
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		out.Scope = scope
	}
	return out
}

// Metadata represents OAuth 2.0 Authorization Server Metadata as defined in RFC 8414.
type Metadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`

	// Fallback is set when no metadata document was found and the endpoints
	// were synthesized from the issuer origin.
	Fallback bool `json:"_fallback,omitempty"`
}

// SupportsPKCE returns true if the server supports S256 PKCE.
func (m *Metadata) SupportsPKCE() bool {
	for _, method := range m.CodeChallengeMethodsSupported {
		if method == "S256" {
			return true
		}
	}
	// Unspecified means S256 (OAuth 2.1 requirement).
	return len(m.CodeChallengeMethodsSupported) == 0
}

// ProtectedResourceMetadata is the RFC 9728 document served by a resource server.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
}

// AuthChallenge represents parsed information from a WWW-Authenticate header.
type AuthChallenge struct {
	// Scheme is the authentication scheme (typically "Bearer").
	Scheme string

	Realm string

	// Resource is the RFC 8707 resource indicator the server asked for.
	Resource string

	// ASURI is an explicit authorization server issuer (as_uri parameter).
	ASURI string

	// ResourceMetadataURL points at the RFC 9728 protected resource metadata.
	ResourceMetadataURL string

	Scope            string
	Error            string
	ErrorDescription string
}

// IsOAuthChallenge returns true if this represents a Bearer challenge.
func (c *AuthChallenge) IsOAuthChallenge() bool {
	if c == nil {
		return false
	}
	return strings.EqualFold(c.Scheme, "Bearer")
}

// PKCEChallenge represents a PKCE (Proof Key for Code Exchange) challenge.
type PKCEChallenge struct {
	// CodeVerifier is kept locally and sent only with the code exchange.
	CodeVerifier string

	// CodeChallenge is the base64url SHA-256 of the verifier.
	CodeChallenge string

	// CodeChallengeMethod is always "S256".
	CodeChallengeMethod string
}

// ClientRegistrationRequest is the RFC 7591 dynamic registration body.
type ClientRegistrationRequest struct {
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
}

// ClientRegistrationResponse is the subset of the RFC 7591 response this client uses.
type ClientRegistrationResponse struct {
	ClientID              string `json:"client_id"`
	ClientSecret          string `json:"client_secret,omitempty"`
	ClientIDIssuedAt      int64  `json:"client_id_issued_at,omitempty"`
	ClientSecretExpiresAt int64  `json:"client_secret_expires_at,omitempty"`
}
