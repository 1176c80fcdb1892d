package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"mcpconnect/pkg/logging"
)

const (
	// DefaultReadHeaderTimeout is the default timeout for reading request headers.
	DefaultReadHeaderTimeout = 10 * time.Second
	// DefaultWriteTimeout covers slow tool calls proxied through the API.
	DefaultWriteTimeout = 150 * time.Second
	// DefaultIdleTimeout is the default idle timeout for keepalive connections.
	DefaultIdleTimeout = 120 * time.Second
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout = 15 * time.Second
)

// Server is an HTTP server with a managed lifecycle.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	notify     func(state string)
}

// Option configures a Server.
type Option func(*Server)

// WithNotifier replaces the systemd notifier.
func WithNotifier(notify func(state string)) Option {
	return func(s *Server) { s.notify = notify }
}

// Listen binds addr and prepares handler to be served on it.
func Listen(addr string, handler http.Handler, opts ...Option) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	s := &Server{
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
		},
		listener: ln,
		notify:   sdNotify,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Addr is the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(s.listener)
	}()
	logging.Info("API", "Listening on %s", s.Addr())
	s.notify(daemon.SdNotifyReady)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving HTTP: %w", err)
	case <-ctx.Done():
	}

	s.notify(daemon.SdNotifyStopping)
	logging.Info("API", "Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}
	return nil
}

func sdNotify(state string) {
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		logging.Warn("API", "systemd notification %q failed: %v", state, err)
	case sent:
		logging.Debug("API", "Sent systemd notification %q", state)
	}
}
