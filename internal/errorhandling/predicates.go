package errorhandling

import (
	"errors"
	"net/http"
	"strings"

	"mcpconnect/internal/jsonrpc"
)

func statusOf(err error) (int, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode, true
	}
	return 0, false
}

// Is401Error reports an HTTP 401 or a JSON-RPC unauthorized error.
func Is401Error(err error) bool {
	var authErr AuthRequirer
	if errors.As(err, &authErr) && authErr.AuthRequired() {
		return true
	}
	if code, ok := statusOf(err); ok {
		return code == http.StatusUnauthorized
	}
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Code == jsonrpc.CodeUnauthorized
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "401")
}

// IsProxyAuthError reports an HTTP 407.
func IsProxyAuthError(err error) bool {
	code, ok := statusOf(err)
	return ok && code == http.StatusProxyAuthRequired
}

// IsMCPProtocolError reports a JSON-RPC error object returned by the server.
func IsMCPProtocolError(err error) bool {
	var rpcErr *jsonrpc.Error
	return errors.As(err, &rpcErr) || errors.Is(err, jsonrpc.ErrNoResponse)
}

// IsTransportError reports a failure below the HTTP layer.
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	r := classifyNetwork(err, ErrorContext{})
	return r != nil
}

// IsRateLimitError reports an HTTP 429.
func IsRateLimitError(err error) bool {
	if code, ok := statusOf(err); ok {
		return code == http.StatusTooManyRequests
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "rate limit")
}

// IsServerError reports an HTTP 5xx.
func IsServerError(err error) bool {
	code, ok := statusOf(err)
	return ok && code >= 500
}

// IsClientError reports an HTTP 4xx.
func IsClientError(err error) bool {
	code, ok := statusOf(err)
	return ok && code >= 400 && code < 500
}
