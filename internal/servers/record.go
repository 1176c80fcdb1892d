package servers

import (
	"context"
	"errors"
	"time"
)

// AuthStatus tracks where a server sits in the authorization flow.
type AuthStatus string

const (
	AuthStatusUnauthenticated AuthStatus = "unauthenticated"
	AuthStatusRequired        AuthStatus = "required"
	AuthStatusAuthorized      AuthStatus = "authorized"
	AuthStatusFailed          AuthStatus = "failed"
)

var (
	// ErrNotFound is returned when no record exists for an id.
	ErrNotFound = errors.New("server not found")
	// ErrAlreadyExists is returned by Create for a duplicate id.
	ErrAlreadyExists = errors.New("server already exists")
)

// Record is a user's registration of one MCP server.
//
// AccessToken set with AuthStatus authorized is the steady state, but the two
// may diverge; token validation detects and repairs that.
type Record struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	URL            string     `json:"url"`
	Name           string     `json:"name"`
	Enabled        bool       `json:"enabled"`
	AuthStatus     AuthStatus `json:"authStatus"`
	AccessToken    string     `json:"accessToken,omitempty"`
	RefreshToken   string     `json:"refreshToken,omitempty"`
	TokenExpiresAt *time.Time `json:"tokenExpiresAt,omitempty"`
	ClientID       string     `json:"clientId,omitempty"`
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.TokenExpiresAt != nil {
		t := *r.TokenExpiresAt
		c.TokenExpiresAt = &t
	}
	return &c
}

// ClearTokens drops stored credentials and marks the server as needing
// re-authorization.
func (r *Record) ClearTokens() {
	r.AccessToken = ""
	r.RefreshToken = ""
	r.TokenExpiresAt = nil
	r.AuthStatus = AuthStatusRequired
}

// HasToken reports whether an access token is stored.
func (r *Record) HasToken() bool {
	return r.AccessToken != ""
}

// Store persists server records. Implementations must tolerate concurrent
// readers and writers; last write wins.
type Store interface {
	Get(ctx context.Context, id string) (*Record, error)
	ListByUser(ctx context.Context, userID string) ([]*Record, error)
	Create(ctx context.Context, r *Record) error
	Update(ctx context.Context, r *Record) error
	Delete(ctx context.Context, id string) error
	Close() error
}
