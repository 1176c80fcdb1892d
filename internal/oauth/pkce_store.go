package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mcpconnect/internal/kvstore"
	"mcpconnect/pkg/logging"
)

const (
	// PKCEPrefix namespaces PKCE entries in the shared store.
	PKCEPrefix = "mcp:pkce:"

	// DefaultStateTTL bounds how long an authorization may stay pending.
	DefaultStateTTL = 10 * time.Minute
)

// PKCEEntry is what the callback needs to complete a code exchange. It is
// keyed by state.
type PKCEEntry struct {
	State        string    `json:"state"`
	CodeVerifier string    `json:"codeVerifier"`
	ClientID     string    `json:"clientId"`
	Resource     string    `json:"resource,omitempty"`
	RedirectURI  string    `json:"redirectUri,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`

	// Where the authorization started, so the callback can persist tokens
	// without rediscovering.
	ServerID      string `json:"serverId,omitempty"`
	UserID        string `json:"userId,omitempty"`
	ServerURL     string `json:"serverUrl,omitempty"`
	TokenEndpoint string `json:"tokenEndpoint,omitempty"`
}

// PKCEStore keeps PKCE entries in a store shared by every instance, since
// the callback may land on a different instance than the one that built the
// authorization URL. Reads are destructive.
type PKCEStore struct {
	store kvstore.Store
	ttl   time.Duration
	now   func() time.Time
}

// PKCEStoreOption configures a PKCEStore.
type PKCEStoreOption func(*PKCEStore)

// WithPKCEClock overrides the time source used for age checks.
func WithPKCEClock(now func() time.Time) PKCEStoreOption {
	return func(s *PKCEStore) {
		s.now = now
	}
}

// NewPKCEStore creates a store with the given TTL (DefaultStateTTL if zero).
func NewPKCEStore(store kvstore.Store, ttl time.Duration, opts ...PKCEStoreOption) *PKCEStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	s := &PKCEStore{store: store, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store saves entry under entry.State, overwriting any previous entry.
func (s *PKCEStore) Store(ctx context.Context, entry *PKCEEntry) error {
	if entry.State == "" || entry.CodeVerifier == "" {
		return errors.New("pkce entry needs a state and a code verifier")
	}
	entry.CreatedAt = s.now()
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding pkce entry: %w", err)
	}
	if err := s.store.Set(ctx, PKCEPrefix+entry.State, data, s.ttl); err != nil {
		return fmt.Errorf("storing pkce entry: %w", err)
	}
	logging.Debug("PKCEStore", "Stored state %s for server %s", logging.TruncateSessionID(entry.State), entry.ServerID)
	return nil
}

// Retrieve returns and deletes the entry for state. Only the first call for
// a given state can succeed; later calls and calls after the TTL get
// ErrStateNotFound.
func (s *PKCEStore) Retrieve(ctx context.Context, state string) (*PKCEEntry, error) {
	if state == "" {
		return nil, ErrStateNotFound
	}
	data, err := s.store.Take(ctx, PKCEPrefix+state)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("retrieving pkce entry: %w", err)
	}

	var entry PKCEEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		logging.Warn("PKCEStore", "Discarding unreadable entry for state %s: %v", logging.TruncateSessionID(state), err)
		return nil, ErrStateNotFound
	}
	// Backends expire lazily or on their own clock.
	if age := s.now().Sub(entry.CreatedAt); age >= s.ttl {
		logging.Debug("PKCEStore", "State %s expired %s ago", logging.TruncateSessionID(state), age-s.ttl)
		return nil, ErrStateNotFound
	}
	return &entry, nil
}
