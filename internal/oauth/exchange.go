package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"mcpconnect/internal/cache"
	"mcpconnect/internal/servers"
	"mcpconnect/pkg/logging"
	pkgoauth "mcpconnect/pkg/oauth"
)

// ExchangeResult is the outcome of a completed authorization.
type ExchangeResult struct {
	// Record is the updated server record, nil if the authorization was not
	// tied to a stored server.
	Record *servers.Record
	Token  *pkgoauth.Token
}

// Exchanger completes authorization callbacks.
type Exchanger struct {
	pkce       *PKCEStore
	discovery  *Discoverer
	servers    servers.Store
	cache      *cache.OAuthCache
	httpClient *http.Client
}

// NewExchanger creates an Exchanger.
func NewExchanger(pkce *PKCEStore, discovery *Discoverer, store servers.Store, oauthCache *cache.OAuthCache) *Exchanger {
	return &Exchanger{
		pkce:       pkce,
		discovery:  discovery,
		servers:    store,
		cache:      oauthCache,
		httpClient: discovery.Client().HTTPClient(),
	}
}

// Exchange trades an authorization code for tokens. The PKCE entry for state
// is consumed even when the exchange fails. The primary token endpoint is
// tried first, then the /token <-> /oauth/token alternate.
func (e *Exchanger) Exchange(ctx context.Context, code, state string) (*ExchangeResult, error) {
	if code == "" {
		return nil, errors.New("authorization code is empty")
	}
	entry, err := e.pkce.Retrieve(ctx, state)
	if err != nil {
		return nil, err
	}

	primary := entry.TokenEndpoint
	if primary == "" {
		if primary, err = e.discovery.TokenEndpoint(ctx, entry.ServerURL); err != nil {
			return nil, fmt.Errorf("discovering token endpoint: %w", err)
		}
	}
	endpoints := []string{primary}
	if alt := AlternateTokenEndpoint(primary); alt != "" && alt != primary {
		endpoints = append(endpoints, alt)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
	opts := []oauth2.AuthCodeOption{oauth2.VerifierOption(entry.CodeVerifier)}
	if entry.Resource != "" {
		opts = append(opts, oauth2.SetAuthURLParam("resource", entry.Resource))
	}

	var tok *oauth2.Token
	for _, endpoint := range endpoints {
		conf := &oauth2.Config{
			ClientID:    entry.ClientID,
			RedirectURL: entry.RedirectURI,
			Endpoint:    oauth2.Endpoint{TokenURL: endpoint, AuthStyle: oauth2.AuthStyleInParams},
		}
		tok, err = conf.Exchange(ctx, code, opts...)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logging.Warn("OAuth", "Code exchange at %s failed: %v", endpoint, err)
	}
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}

	token := toToken(tok, "")
	result := &ExchangeResult{Token: token}
	if entry.ServerID == "" {
		return result, nil
	}

	rec, err := e.servers.Get(ctx, entry.ServerID)
	if err != nil {
		return nil, fmt.Errorf("loading server %s: %w", entry.ServerID, err)
	}
	if entry.UserID != "" && rec.UserID != entry.UserID {
		return nil, fmt.Errorf("server %s belongs to another user: %w", entry.ServerID, servers.ErrNotFound)
	}
	applyToken(rec, token)
	rec.ClientID = entry.ClientID
	if err := e.servers.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("saving tokens for server %s: %w", entry.ServerID, err)
	}

	err = e.cache.Set(ctx, rec.ID, &cache.TokenEntry{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		ExpiresAt:    rec.TokenExpiresAt,
		ClientID:     rec.ClientID,
		ServerURL:    rec.URL,
	})
	if err != nil {
		logging.Warn("OAuth", "Failed to seed token cache for server %s: %v", rec.ID, err)
	}

	logging.Info("OAuth", "Server %s authorized", rec.ID)
	result.Record = rec
	return result, nil
}
