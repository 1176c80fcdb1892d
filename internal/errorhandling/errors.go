package errorhandling

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPError is a non-2xx response from an MCP or OAuth endpoint.
type HTTPError struct {
	StatusCode int
	Status     string
	URL        string
	// RetryAfter is the raw Retry-After header value, if any.
	RetryAfter string
	// WWWAuthenticate is kept so auth-required handling can run discovery.
	WWWAuthenticate string
	Body            string
}

// maxErrorBody bounds how much of a response body is kept on the error.
const maxErrorBody = 512

// NewHTTPError captures the parts of resp needed for classification.
func NewHTTPError(resp *http.Response, body []byte) *HTTPError {
	e := &HTTPError{
		StatusCode:      resp.StatusCode,
		Status:          resp.Status,
		RetryAfter:      resp.Header.Get("Retry-After"),
		WWWAuthenticate: resp.Header.Get("WWW-Authenticate"),
	}
	if resp.Request != nil && resp.Request.URL != nil {
		e.URL = resp.Request.URL.String()
	}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	e.Body = strings.TrimSpace(string(body))
	return e
}

func (e *HTTPError) Error() string {
	status := e.Status
	if status == "" {
		status = strconv.Itoa(e.StatusCode) + " " + http.StatusText(e.StatusCode)
	}
	if e.Body != "" {
		return fmt.Sprintf("HTTP %s: %s", status, e.Body)
	}
	return "HTTP " + status
}

// RetryAfterDuration parses Retry-After as delta-seconds or an HTTP date.
// Returns 0 when absent or unparseable.
func (e *HTTPError) RetryAfterDuration(now time.Time) time.Duration {
	if e.RetryAfter == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(e.RetryAfter)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(e.RetryAfter); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// NetworkError wraps a transport-level failure (DNS, connect, TLS, timeout).
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the underlying failure was a timeout.
func (e *NetworkError) Timeout() bool {
	var t interface{ Timeout() bool }
	if errors.As(e.Err, &t) && t.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(e.Err.Error()), "timeout")
}
