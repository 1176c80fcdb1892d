package oauth

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"mcpconnect/internal/config"
	"mcpconnect/pkg/logging"
	pkgoauth "mcpconnect/pkg/oauth"
)

// DiscoveryOptions ties an authorization attempt to a server record so the
// callback can persist the resulting tokens.
type DiscoveryOptions struct {
	ServerID string
	UserID   string
}

// Discoverer turns a WWW-Authenticate challenge into an authorization URL.
type Discoverer struct {
	cfg    config.Config
	client *pkgoauth.Client
	pkce   *PKCEStore
}

// NewDiscoverer creates a Discoverer. client carries the 5 minute metadata
// cache shared by discovery, refresh and exchange.
func NewDiscoverer(cfg config.Config, client *pkgoauth.Client, pkce *PKCEStore) *Discoverer {
	return &Discoverer{cfg: cfg, client: client, pkce: pkce}
}

// Client returns the metadata client.
func (d *Discoverer) Client() *pkgoauth.Client {
	return d.client
}

// DiscoverAuthorizationURL resolves the authorization server for resourceURL,
// registers a client when the server allows it, stores the PKCE verifier and
// returns the URL the user must visit. Individual discovery steps fail over
// to the next fallback; only a total failure returns ErrNoAuthorizationServer.
func (d *Discoverer) DiscoverAuthorizationURL(ctx context.Context, wwwAuthenticate, resourceURL string, opts DiscoveryOptions) (string, error) {
	challenge, err := pkgoauth.ParseWWWAuthenticate(wwwAuthenticate)
	if err != nil {
		logging.Debug("Discovery", "No usable challenge for %s: %v", resourceURL, err)
		challenge = &pkgoauth.AuthChallenge{}
	} else if !challenge.IsOAuthChallenge() {
		return "", fmt.Errorf("%w: %s challenges with %q", ErrNoAuthorizationServer, resourceURL, challenge.Scheme)
	}

	issuer := d.resolveIssuer(ctx, challenge, resourceURL)
	if issuer == "" {
		return "", ErrNoAuthorizationServer
	}

	md, err := d.client.ResolveMetadata(ctx, issuer, resourceURL)
	if err != nil || md.AuthorizationEndpoint == "" {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: issuer %s", ErrNoAuthorizationServer, issuer)
	}

	if !md.SupportsPKCE() {
		logging.Warn("Discovery", "Issuer %s does not advertise S256 PKCE (%v), sending S256 anyway",
			issuer, md.CodeChallengeMethodsSupported)
	}

	clientID := d.registerClient(ctx, md)
	redirectURI := d.cfg.RedirectURI()

	pkce := pkgoauth.GeneratePKCE()
	state, err := pkgoauth.GenerateState()
	if err != nil {
		return "", err
	}

	conf := &oauth2.Config{
		ClientID:    clientID,
		RedirectURL: redirectURI,
		Scopes:      d.cfg.OAuth.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   md.AuthorizationEndpoint,
			TokenURL:  md.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	authOpts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(pkce.CodeVerifier)}
	if challenge.Resource != "" {
		authOpts = append(authOpts, oauth2.SetAuthURLParam("resource", challenge.Resource))
	}
	authURL := conf.AuthCodeURL(state, authOpts...)

	err = d.pkce.Store(ctx, &PKCEEntry{
		State:         state,
		CodeVerifier:  pkce.CodeVerifier,
		ClientID:      clientID,
		Resource:      challenge.Resource,
		RedirectURI:   redirectURI,
		ServerID:      opts.ServerID,
		UserID:        opts.UserID,
		ServerURL:     resourceURL,
		TokenEndpoint: md.TokenEndpoint,
	})
	if err != nil {
		return "", err
	}

	logging.Info("Discovery", "Authorization URL ready for server %s (issuer %s, fallback=%t)", opts.ServerID, issuer, md.Fallback)
	return authURL, nil
}

// resolveIssuer tries as_uri, then resource_metadata, then RFC 9728 probing
// and finally the resource origin.
func (d *Discoverer) resolveIssuer(ctx context.Context, challenge *pkgoauth.AuthChallenge, resourceURL string) string {
	if challenge.ASURI != "" {
		return challenge.ASURI
	}
	if challenge.ResourceMetadataURL != "" {
		prm, err := d.client.FetchProtectedResourceMetadata(ctx, challenge.ResourceMetadataURL)
		if err == nil {
			return prm.AuthorizationServers[0]
		}
		logging.Debug("Discovery", "resource_metadata %s unusable: %v", challenge.ResourceMetadataURL, err)
	}
	if prm, err := d.client.DiscoverProtectedResource(ctx, resourceURL); err == nil {
		return prm.AuthorizationServers[0]
	}
	return pkgoauth.Origin(resourceURL)
}

// registerClient attempts one dynamic registration and falls back to the
// configured default client id.
func (d *Discoverer) registerClient(ctx context.Context, md *pkgoauth.Metadata) string {
	if md.RegistrationEndpoint == "" {
		return d.cfg.OAuth.DefaultClientID
	}
	resp, err := d.client.RegisterClient(ctx, md.RegistrationEndpoint, &pkgoauth.ClientRegistrationRequest{
		ClientName:              d.cfg.OAuth.ClientName,
		RedirectURIs:            []string{d.cfg.OAuth.DevRedirectURI, d.cfg.OAuth.ProdRedirectURI},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "none",
		Scope:                   strings.Join(d.cfg.OAuth.Scopes, " "),
	})
	if err != nil {
		logging.Warn("Discovery", "Dynamic client registration at %s failed, using default client id: %v", md.RegistrationEndpoint, err)
		return d.cfg.OAuth.DefaultClientID
	}
	return resp.ClientID
}

// TokenEndpoint discovers the token endpoint for an MCP server the same way
// authorization does, ending at {origin}/oauth/token.
func (d *Discoverer) TokenEndpoint(ctx context.Context, serverURL string) (string, error) {
	issuer := d.resolveIssuer(ctx, &pkgoauth.AuthChallenge{}, serverURL)
	if issuer == "" {
		return "", fmt.Errorf("%w: cannot parse %q", ErrNoAuthorizationServer, serverURL)
	}
	md, err := d.client.ResolveMetadata(ctx, issuer, serverURL)
	if err != nil {
		return "", err
	}
	if md.TokenEndpoint == "" {
		return pkgoauth.Origin(issuer) + "/oauth/token", nil
	}
	return md.TokenEndpoint, nil
}

// AlternateTokenEndpoint swaps /oauth/token and /token. Other paths map to
// {origin}/oauth/token.
func AlternateTokenEndpoint(tokenURL string) string {
	u, err := url.Parse(tokenURL)
	if err != nil || u.Host == "" {
		return ""
	}
	switch {
	case strings.HasSuffix(u.Path, "/oauth/token"):
		u.Path = strings.TrimSuffix(u.Path, "/oauth/token") + "/token"
	case strings.HasSuffix(u.Path, "/token"):
		u.Path = strings.TrimSuffix(u.Path, "/token") + "/oauth/token"
	default:
		u.Path = "/oauth/token"
	}
	u.RawQuery = ""
	return u.String()
}
