package mock

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"sync"
	"testing"
	"time"
)

// OAuthServerConfig configures the mock OAuth server behavior
type OAuthServerConfig struct {
	// AcceptedClientIDs restricts the client ids the token endpoint accepts.
	// Other ids get 401 invalid_client. Empty accepts any id.
	AcceptedClientIDs []string

	// RegisteredClientID enables /register and is the client_id it returns.
	RegisteredClientID string

	// TokenPath is where the token endpoint is actually served. Defaults to
	// /token.
	TokenPath string

	// AdvertisedTokenPath is the token endpoint published in metadata.
	// Defaults to TokenPath.
	AdvertisedTokenPath string

	// NoMetadata makes every well-known document 404, as non-compliant
	// servers do.
	NoMetadata bool

	// InvalidGrant rejects every grant with 400 invalid_grant.
	InvalidGrant bool

	// TokenLifetime is the expires_in value of issued tokens. Defaults to 1h.
	TokenLifetime time.Duration
}

// TokenRequest is a recorded call to the token endpoint.
type TokenRequest struct {
	Path string
	Form url.Values
}

// TokenResponse is the OAuth token response
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// OAuthServer is a mock OAuth 2.1 authorization server
type OAuthServer struct {
	config OAuthServerConfig
	server *httptest.Server

	mu            sync.Mutex
	codes         map[string]string // code -> S256 challenge
	tokenRequests []TokenRequest
	registrations int
	metadataHits  int
	issued        int
}

// NewOAuthServer starts a mock OAuth server that is closed when the test ends.
func NewOAuthServer(t testing.TB, config OAuthServerConfig) *OAuthServer {
	t.Helper()
	if config.TokenPath == "" {
		config.TokenPath = "/token"
	}
	if config.AdvertisedTokenPath == "" {
		config.AdvertisedTokenPath = config.TokenPath
	}
	if config.TokenLifetime == 0 {
		config.TokenLifetime = time.Hour
	}

	s := &OAuthServer{
		config: config,
		codes:  make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/oauth-authorization-server", s.handleMetadata)
	mux.HandleFunc("/.well-known/openid-configuration", s.handleMetadata)
	mux.HandleFunc("/register", s.handleRegister)
	mux.HandleFunc("/authorize", s.handleAuthorize)
	mux.HandleFunc(config.TokenPath, s.handleToken)

	s.server = httptest.NewServer(mux)
	t.Cleanup(s.server.Close)
	return s
}

// URL returns the issuer URL.
func (s *OAuthServer) URL() string {
	return s.server.URL
}

// TokenRequests returns the recorded token endpoint calls in order.
func (s *OAuthServer) TokenRequests() []TokenRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.tokenRequests)
}

// Registrations returns how many dynamic registrations were accepted.
func (s *OAuthServer) Registrations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registrations
}

// MetadataRequests returns how many times the metadata document was fetched.
func (s *OAuthServer) MetadataRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadataHits
}

// Authorize plays the user approving an authorization URL produced by the
// client and returns the code and state the redirect would carry.
func (s *OAuthServer) Authorize(authURL string) (code, state string, err error) {
	u, err := url.Parse(authURL)
	if err != nil {
		return "", "", err
	}
	q := u.Query()
	if q.Get("response_type") != "code" {
		return "", "", fmt.Errorf("unsupported response_type %q", q.Get("response_type"))
	}
	return s.issueCode(q.Get("code_challenge")), q.Get("state"), nil
}

func (s *OAuthServer) issueCode(challenge string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	code := fmt.Sprintf("code-%d", len(s.codes)+1)
	s.codes[code] = challenge
	return code
}

func (s *OAuthServer) handleMetadata(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.metadataHits++
	s.mu.Unlock()
	if s.config.NoMetadata {
		http.NotFound(w, nil)
		return
	}
	metadata := map[string]any{
		"issuer":                                s.server.URL,
		"authorization_endpoint":                s.server.URL + "/authorize",
		"token_endpoint":                        s.server.URL + s.config.AdvertisedTokenPath,
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"token_endpoint_auth_methods_supported": []string{"none"},
		"code_challenge_methods_supported":      []string{"S256"},
	}
	if s.config.RegisteredClientID != "" {
		metadata["registration_endpoint"] = s.server.URL + "/register"
	}
	writeJSON(w, http.StatusOK, metadata)
}

func (s *OAuthServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || s.config.RegisteredClientID == "" {
		http.Error(w, "registration not supported", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		ClientName   string   `json:"client_name"`
		RedirectURIs []string `json:"redirect_uris"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.RedirectURIs) == 0 {
		writeOAuthError(w, http.StatusBadRequest, "invalid_client_metadata")
		return
	}
	s.mu.Lock()
	s.registrations++
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]any{
		"client_id":     s.config.RegisteredClientID,
		"client_name":   body.ClientName,
		"redirect_uris": body.RedirectURIs,
	})
}

// handleAuthorize redirects straight back with a code, simulating approval.
func (s *OAuthServer) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	code, state, err := s.Authorize(r.URL.String())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	redirect, err := url.Parse(r.URL.Query().Get("redirect_uri"))
	if err != nil || redirect.Scheme == "" {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}
	q := redirect.Query()
	q.Set("code", code)
	q.Set("state", state)
	redirect.RawQuery = q.Encode()
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

func (s *OAuthServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	s.mu.Lock()
	s.tokenRequests = append(s.tokenRequests, TokenRequest{Path: r.URL.Path, Form: r.PostForm})
	s.mu.Unlock()

	if ids := s.config.AcceptedClientIDs; len(ids) > 0 && !slices.Contains(ids, r.PostForm.Get("client_id")) {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client")
		return
	}
	if s.config.InvalidGrant {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		s.mu.Lock()
		challenge, ok := s.codes[r.PostForm.Get("code")]
		delete(s.codes, r.PostForm.Get("code"))
		s.mu.Unlock()
		if !ok || !verifyS256(challenge, r.PostForm.Get("code_verifier")) {
			writeOAuthError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
	case "refresh_token":
		if r.PostForm.Get("refresh_token") == "" {
			writeOAuthError(w, http.StatusBadRequest, "invalid_request")
			return
		}
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type")
		return
	}

	s.mu.Lock()
	s.issued++
	n := s.issued
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  fmt.Sprintf("access-%d", n),
		RefreshToken: fmt.Sprintf("refresh-%d", n),
		TokenType:    "Bearer",
		ExpiresIn:    int(s.config.TokenLifetime.Seconds()),
	})
}

func verifyS256(challenge, verifier string) bool {
	if challenge == "" || verifier == "" {
		return false
	}
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:]) == challenge
}

func writeOAuthError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code, "error_description": code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
