package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"mcpconnect/internal/config"
	"mcpconnect/internal/errorhandling"
	"mcpconnect/internal/jsonrpc"
	"mcpconnect/pkg/logging"
)

const sessionHeader = "Mcp-Session-Id"

// ErrSessionExpired is returned when a server answers 404 to a request that
// carried a session id. The session has been forgotten; the caller should
// initialize again.
var ErrSessionExpired = errors.New("mcp session expired")

// ErrSessionRequired is returned when a server answers 400 to a request sent
// before any session was established. The caller should initialize first.
var ErrSessionRequired = errors.New("mcp session required")

// acceptVariants is the 406 fallback ladder. The empty value sends no Accept
// header at all.
var acceptVariants = []string{"application/json, text/event-stream", "*/*", ""}

// HTTPTransport speaks JSON-RPC over HTTP POST. It remembers the session id
// and the Accept variant each server last accepted.
type HTTPTransport struct {
	client *http.Client
	cfg    config.ConnectionConfig
	nextID atomic.Int64

	mu       sync.Mutex
	sessions map[string]string
	accept   map[string]int
}

// NewHTTPTransport creates a transport. Timeouts are applied per request
// from cfg so hc should not set its own.
func NewHTTPTransport(hc *http.Client, cfg config.ConnectionConfig) *HTTPTransport {
	if hc == nil {
		hc = &http.Client{}
	}
	return &HTTPTransport{
		client:   hc,
		cfg:      cfg,
		sessions: make(map[string]string),
		accept:   make(map[string]int),
	}
}

// TimeoutFor returns the request timeout for serverURL. Hosts matching a
// configured slow-host suffix get the longer timeout.
func (t *HTTPTransport) TimeoutFor(serverURL string) time.Duration {
	timeout := t.cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = config.DefaultHTTPTimeout
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return timeout
	}
	host := strings.ToLower(u.Hostname())
	for _, suffix := range t.cfg.SlowHosts {
		suffix = strings.ToLower(strings.TrimPrefix(suffix, "."))
		if suffix != "" && (host == suffix || strings.HasSuffix(host, "."+suffix)) {
			if t.cfg.SlowHostTimeout > timeout {
				return t.cfg.SlowHostTimeout
			}
			return timeout
		}
	}
	return timeout
}

// Session returns the session id held for serverURL.
func (t *HTTPTransport) Session(serverURL string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[serverURL]
}

// ResetSession forgets the session held for serverURL.
func (t *HTTPTransport) ResetSession(serverURL string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, serverURL)
}

func (t *HTTPTransport) setSession(serverURL, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[serverURL] = id
}

func (t *HTTPTransport) acceptStart(serverURL string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.accept[serverURL]
}

func (t *HTTPTransport) rememberAccept(serverURL string, idx int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accept[serverURL] = idx
}

// Call sends one JSON-RPC request and returns the matching response. A
// JSON-RPC error object is returned inside the response, not as err.
//
// Failures are typed: *errorhandling.HTTPError for non-2xx answers,
// *errorhandling.NetworkError when the server could not be reached,
// ErrSessionExpired for a 404 on a session, ErrSessionRequired for a 400
// before one exists, jsonrpc.ErrNoResponse when the
// body held no answer for the request.
func (t *HTTPTransport) Call(ctx context.Context, serverURL string, headers map[string]string, method string, params any) (*jsonrpc.Response, error) {
	id := t.nextID.Add(1)
	body, err := json.Marshal(jsonrpc.NewRequest(id, method, params))
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.TimeoutFor(serverURL))
	defer cancel()

	resp, err := t.post(ctx, serverURL, headers, method, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if sid := resp.Header.Get(sessionHeader); sid != "" {
		if prev := t.Session(serverURL); prev != sid {
			logging.Debug("Transport", "Session %s established with %s", logging.TruncateSessionID(sid), serverURL)
		}
		t.setSession(serverURL, sid)
	}

	msg, err := jsonrpc.ReadResponse(resp.Body, resp.Header.Get("Content-Type"), id)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &errorhandling.NetworkError{Op: method, URL: serverURL, Err: ctx.Err()}
		}
		return nil, fmt.Errorf("%s response from %s: %w", method, serverURL, err)
	}
	return msg, nil
}

// Notify sends a JSON-RPC notification. Any 2xx status is success.
func (t *HTTPTransport) Notify(ctx context.Context, serverURL string, headers map[string]string, method string) error {
	body, err := json.Marshal(jsonrpc.NewNotification(method, nil))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, t.TimeoutFor(serverURL))
	defer cancel()

	resp, err := t.post(ctx, serverURL, headers, method, body)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// post walks the Accept fallback ladder starting at the variant the server
// last accepted. The returned response has a 2xx status.
func (t *HTTPTransport) post(ctx context.Context, serverURL string, headers map[string]string, method string, body []byte) (*http.Response, error) {
	session := t.Session(serverURL)
	var lastErr error

	for idx := t.acceptStart(serverURL); idx < len(acceptVariants); idx++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("building %s request: %w", method, err)
		}
		req.Header.Set("Content-Type", "application/json")
		if accept := acceptVariants[idx]; accept != "" {
			req.Header.Set("Accept", accept)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		if session != "" {
			req.Header.Set(sessionHeader, session)
		}

		resp, err := t.client.Do(req)
		if err != nil {
			return nil, &errorhandling.NetworkError{Op: method, URL: serverURL, Err: err}
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			t.rememberAccept(serverURL, idx)
			return resp, nil
		}

		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		httpErr := errorhandling.NewHTTPError(resp, errBody)

		switch {
		case resp.StatusCode == http.StatusNotAcceptable:
			logging.Debug("Transport", "%s rejected Accept %q for %s", serverURL, acceptVariants[idx], method)
			lastErr = httpErr
			continue
		case resp.StatusCode == http.StatusNotFound && session != "":
			t.ResetSession(serverURL)
			logging.Info("Transport", "Session %s with %s expired", logging.TruncateSessionID(session), serverURL)
			return nil, fmt.Errorf("%w: %s", ErrSessionExpired, serverURL)
		case resp.StatusCode == http.StatusBadRequest && session == "" && method != jsonrpc.MethodInitialize:
			return nil, fmt.Errorf("%w: %w", ErrSessionRequired, httpErr)
		}
		return nil, httpErr
	}
	return nil, lastErr
}
