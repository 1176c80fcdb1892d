package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"mcpconnect/internal/api"
	"mcpconnect/internal/config"
	"mcpconnect/internal/server"
	"mcpconnect/internal/servers"
	"mcpconnect/pkg/logging"
)

// Serve runs the HTTP API until ctx is cancelled or SIGINT/SIGTERM arrives.
// A file-backed server registry is reloaded whenever the file changes.
func (a *Application) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := a.services
	if fs, ok := s.Servers.(*servers.FileStore); ok {
		if err := fs.Watch(ctx); err != nil {
			logging.Warn("Bootstrap", "Server registry hot reload disabled: %v", err)
		}
	}

	router := api.NewRouter(api.Deps{
		Manager:      s.Manager,
		ToolExec:     s.ToolExec,
		Exchanger:    s.Exchanger,
		OAuthCache:   s.OAuthCache,
		Discoverer:   s.Discoverer,
		Gatherer:     s.Registry,
		CallbackPath: config.DefaultOAuthCallbackPath,
	})

	srv, err := server.Listen(s.Config.API.ListenAddress, router)
	if err != nil {
		return fmt.Errorf("starting API: %w", err)
	}
	logging.Info("Bootstrap", "Serving in %s mode, OAuth redirect URI %s", s.Config.Environment, s.Config.RedirectURI())
	return srv.Run(ctx)
}
