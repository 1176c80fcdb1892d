package app

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"mcpconnect/internal/cache"
	"mcpconnect/internal/catalog"
	"mcpconnect/internal/config"
	"mcpconnect/internal/connection"
	"mcpconnect/internal/kvstore"
	"mcpconnect/internal/oauth"
	"mcpconnect/internal/servers"
	"mcpconnect/internal/telemetry"
	"mcpconnect/internal/toolexec"
	"mcpconnect/pkg/logging"
	pkgoauth "mcpconnect/pkg/oauth"
)

// Services holds every long-lived component. Fields are safe for concurrent
// use once InitializeServices returns.
type Services struct {
	Config config.Config

	KV      kvstore.Store
	Servers servers.Store

	ToolCache  *cache.ToolCache
	OAuthCache *cache.OAuthCache

	PKCE       *oauth.PKCEStore
	Discoverer *oauth.Discoverer
	Tokens     *oauth.TokenManager
	Exchanger  *oauth.Exchanger

	Manager   *connection.Manager
	Telemetry *telemetry.Service
	ToolExec  *toolexec.Service

	// Registry collects Prometheus metrics served on /metrics.
	Registry *prometheus.Registry
}

// InitializeServices builds all components from cfg. Stores opened before a
// failure are closed again.
func InitializeServices(cfg config.Config) (_ *Services, err error) {
	s := &Services{Config: cfg, Registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	if s.KV, err = kvstore.Open(cfg.Cache); err != nil {
		return nil, fmt.Errorf("opening %s cache backend: %w", cfg.Cache.Backend, err)
	}
	if s.Servers, err = servers.Open(cfg.Servers); err != nil {
		return nil, fmt.Errorf("opening %s server store: %w", cfg.Servers.Store, err)
	}

	s.ToolCache = cache.NewToolCache(s.KV, cfg.Cache.ToolsTTL)
	s.OAuthCache = cache.NewOAuthCache(s.KV, cfg.Cache.OAuthTTL)

	policy := oauth.AssumeValid
	if cfg.OAuth.FailClosedValidation {
		policy = oauth.FailClosed
	}
	s.PKCE = oauth.NewPKCEStore(s.KV, cfg.OAuth.StateTTL)
	s.Discoverer = oauth.NewDiscoverer(cfg, pkgoauth.NewClient(), s.PKCE)
	s.Tokens = oauth.NewTokenManager(cfg, s.Discoverer, s.Servers, s.OAuthCache, oauth.WithValidationPolicy(policy))
	s.Exchanger = oauth.NewExchanger(s.PKCE, s.Discoverer, s.Servers, s.OAuthCache)

	if s.Telemetry, err = telemetry.NewFromConfig(cfg.Telemetry, s.Registry); err != nil {
		return nil, fmt.Errorf("creating telemetry: %w", err)
	}

	s.Manager = connection.NewManager(cfg, s.Servers, s.ToolCache,
		connection.WithTokenManager(s.Tokens),
		connection.WithDiscoverer(s.Discoverer),
	)
	s.ToolExec = toolexec.NewService(s.Manager, s.Servers, catalog.New(), s.Telemetry)

	logging.Debug("Bootstrap", "Services initialized (cache=%s, servers=%s, telemetry=%s)",
		cfg.Cache.Backend, cfg.Servers.Store, cfg.Telemetry.Sink)
	return s, nil
}

// Close releases the stores.
func (s *Services) Close() error {
	var errs []error
	if s.Servers != nil {
		errs = append(errs, s.Servers.Close())
	}
	if s.KV != nil {
		errs = append(errs, s.KV.Close())
	}
	return errors.Join(errs...)
}
