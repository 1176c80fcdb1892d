package errorhandling

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"mcpconnect/internal/jsonrpc"
)

// Kind is the coarse error taxonomy surfaced to callers.
type Kind string

const (
	KindAuthRequired Kind = "auth_required"
	KindFatal        Kind = "fatal"
	KindTransient    Kind = "transient"
	KindProtocol     Kind = "protocol"
)

// Default delays chosen per error class.
const (
	delayJSONRPCTimeout  = 2 * time.Second
	delayJSONRPCInternal = 3 * time.Second
	delayNetwork         = 1500 * time.Millisecond
	delayNetworkTimeout  = 2 * time.Second
	delayRateLimit       = 5 * time.Second
	delayServerError     = 3 * time.Second
)

// MaxRetryAfter bounds how long a single retry waits on a server's
// Retry-After header.
const MaxRetryAfter = 60 * time.Second

// ErrorContext describes the operation that failed.
type ErrorContext struct {
	Operation  string
	ServerID   string
	ServerName string
	ToolName   string
}

// ErrorResult is the classifier verdict.
type ErrorResult struct {
	Kind         Kind          `json:"kind"`
	ShouldRetry  bool          `json:"shouldRetry"`
	RetryAfter   time.Duration `json:"retryAfter,omitempty"`
	UserMessage  string        `json:"userMessage"`
	RequiresAuth bool          `json:"requiresAuth,omitempty"`
	IsFatal      bool          `json:"isFatal,omitempty"`
	// Attempts is filled in by ExecuteWithRetry.
	Attempts int   `json:"attempts,omitempty"`
	Err      error `json:"-"`
}

func (r *ErrorResult) Error() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	return r.UserMessage
}

func (r *ErrorResult) Unwrap() error {
	return r.Err
}

// AuthRequirer is implemented by errors that already know the caller must
// re-authorize, such as a connection layer that has run discovery.
type AuthRequirer interface {
	AuthRequired() bool
}

// HandleError classifies err. Typed errors are inspected first; message
// substrings are only consulted for opaque errors.
func HandleError(err error, ec ErrorContext) *ErrorResult {
	if err == nil {
		return nil
	}
	if r := classifyContext(err); r != nil {
		return finish(r, err)
	}
	var authErr AuthRequirer
	if errors.As(err, &authErr) && authErr.AuthRequired() {
		return finish(&ErrorResult{Kind: KindAuthRequired, RequiresAuth: true,
			UserMessage: fmt.Sprintf("%s requires authentication.", capitalize(describe(ec)))}, err)
	}
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return finish(classifyJSONRPC(rpcErr, ec), err)
	}
	if r := classifyNetwork(err, ec); r != nil {
		return finish(r, err)
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return finish(classifyHTTP(httpErr, ec), err)
	}
	if r := classifyOpaque(err, ec); r != nil {
		return finish(r, err)
	}
	return finish(&ErrorResult{
		Kind:        KindTransient,
		ShouldRetry: true,
		UserMessage: err.Error(),
	}, err)
}

func finish(r *ErrorResult, err error) *ErrorResult {
	r.Err = err
	if r.IsFatal || r.RequiresAuth {
		r.ShouldRetry = false
	}
	return r
}

func classifyContext(err error) *ErrorResult {
	switch {
	case errors.Is(err, context.Canceled):
		return &ErrorResult{Kind: KindFatal, IsFatal: true, UserMessage: "The request was cancelled."}
	case errors.Is(err, context.DeadlineExceeded):
		var netErr *NetworkError
		if errors.As(err, &netErr) {
			return nil
		}
		return &ErrorResult{Kind: KindTransient, ShouldRetry: true, RetryAfter: delayNetworkTimeout,
			UserMessage: "The request timed out. Retrying..."}
	}
	return nil
}

func classifyJSONRPC(e *jsonrpc.Error, ec ErrorContext) *ErrorResult {
	target := describe(ec)
	switch e.Code {
	case jsonrpc.CodeUnauthorized:
		return &ErrorResult{Kind: KindAuthRequired, RequiresAuth: true,
			UserMessage: fmt.Sprintf("%s requires authentication.", capitalize(target))}
	case jsonrpc.CodeForbidden:
		return fatal(fmt.Sprintf("Access to %s is forbidden.", target))
	case jsonrpc.CodeMethodNotFound:
		return fatal(fmt.Sprintf("%s does not support this operation.", capitalize(target)))
	case jsonrpc.CodeInvalidParams:
		return fatal(fmt.Sprintf("Invalid parameters: %s", e.Message))
	case jsonrpc.CodeCancelled:
		return fatal("The request was cancelled by the server.")
	case jsonrpc.CodeParseError:
		return &ErrorResult{Kind: KindProtocol, IsFatal: true, UserMessage: "The server could not parse the request."}
	case jsonrpc.CodeInvalidRequest:
		return &ErrorResult{Kind: KindProtocol, IsFatal: true, UserMessage: "The server rejected the request as invalid."}
	case jsonrpc.CodeNotFound:
		return fatal(fmt.Sprintf("Not found: %s", e.Message))
	case jsonrpc.CodeMethodNotAllowed:
		return fatal(fmt.Sprintf("Operation not allowed: %s", e.Message))
	case jsonrpc.CodeTimeout:
		return &ErrorResult{Kind: KindTransient, ShouldRetry: true, RetryAfter: delayJSONRPCTimeout,
			UserMessage: fmt.Sprintf("%s timed out. Retrying...", capitalize(target))}
	case jsonrpc.CodeInternalError:
		return &ErrorResult{Kind: KindTransient, ShouldRetry: true, RetryAfter: delayJSONRPCInternal,
			UserMessage: fmt.Sprintf("%s hit an internal error. Retrying...", capitalize(target))}
	}
	return &ErrorResult{Kind: KindTransient, ShouldRetry: true, UserMessage: e.Message}
}

func classifyNetwork(err error, ec ErrorContext) *ErrorResult {
	var netErr *NetworkError
	var stdNetErr net.Error
	isNet := errors.As(err, &netErr) || errors.As(err, &stdNetErr)
	if !isNet {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "cors") {
		return fatal("The request was blocked by a cross-origin policy.")
	}
	timeout := (netErr != nil && netErr.Timeout()) || (stdNetErr != nil && stdNetErr.Timeout())
	if timeout {
		return &ErrorResult{Kind: KindTransient, ShouldRetry: true, RetryAfter: delayNetworkTimeout,
			UserMessage: fmt.Sprintf("Timed out reaching %s. Retrying...", describe(ec))}
	}
	return &ErrorResult{Kind: KindTransient, ShouldRetry: true, RetryAfter: delayNetwork,
		UserMessage: fmt.Sprintf("Network error reaching %s. Retrying...", describe(ec))}
}

func classifyHTTP(e *HTTPError, ec ErrorContext) *ErrorResult {
	target := describe(ec)
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return &ErrorResult{Kind: KindAuthRequired, RequiresAuth: true,
			UserMessage: fmt.Sprintf("%s requires authentication.", capitalize(target))}
	case e.StatusCode == http.StatusProxyAuthRequired:
		return fatal("A proxy between you and the server requires authentication.")
	case e.StatusCode == http.StatusForbidden:
		return fatal(fmt.Sprintf("Access to %s is forbidden.", target))
	case e.StatusCode == http.StatusNotFound:
		return fatal(fmt.Sprintf("%s was not found.", capitalize(target)))
	case e.StatusCode == http.StatusNotAcceptable:
		return &ErrorResult{Kind: KindProtocol, IsFatal: true,
			UserMessage: fmt.Sprintf("%s rejected the request headers.", capitalize(target))}
	case e.StatusCode == http.StatusTooManyRequests:
		asked := e.RetryAfterDuration(time.Now())
		wait := cappedWait(asked, delayRateLimit)
		msg := fmt.Sprintf("Rate limited by %s. Retrying in %s.", target, wait.Round(time.Second))
		if asked > wait {
			msg = fmt.Sprintf("Rate limited by %s, which asked to wait %s. Retrying in %s.", target, asked.Round(time.Second), wait.Round(time.Second))
		}
		return &ErrorResult{Kind: KindTransient, ShouldRetry: true, RetryAfter: wait, UserMessage: msg}
	case e.StatusCode >= 500:
		wait := delayServerError
		if e.StatusCode == http.StatusServiceUnavailable {
			wait = cappedWait(e.RetryAfterDuration(time.Now()), delayServerError)
		}
		return &ErrorResult{Kind: KindTransient, ShouldRetry: true, RetryAfter: wait,
			UserMessage: fmt.Sprintf("%s is having problems (HTTP %d). Retrying...", capitalize(target), e.StatusCode)}
	case e.StatusCode >= 400:
		return fatal(fmt.Sprintf("Request to %s failed (HTTP %d).", target, e.StatusCode))
	}
	return &ErrorResult{Kind: KindTransient, ShouldRetry: true, UserMessage: e.Error()}
}

// cappedWait returns asked bounded by MaxRetryAfter, or fallback when the
// server gave no usable value.
func cappedWait(asked, fallback time.Duration) time.Duration {
	switch {
	case asked <= 0:
		return fallback
	case asked > MaxRetryAfter:
		return MaxRetryAfter
	}
	return asked
}

// classifyOpaque is the last-resort tier for errors with no type information.
func classifyOpaque(err error, ec ErrorContext) *ErrorResult {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "cors"):
		return fatal("The request was blocked by a cross-origin policy.")
	case containsAny(msg, "401", "unauthorized", "authentication required", "invalid_token"):
		return &ErrorResult{Kind: KindAuthRequired, RequiresAuth: true,
			UserMessage: fmt.Sprintf("%s requires authentication.", capitalize(describe(ec)))}
	case containsAny(msg, "timeout", "timed out"):
		return &ErrorResult{Kind: KindTransient, ShouldRetry: true, RetryAfter: delayNetworkTimeout,
			UserMessage: fmt.Sprintf("Timed out reaching %s. Retrying...", describe(ec))}
	case containsAny(msg, "network", "fetch", "connection refused", "connection reset", "no such host", "eof"):
		return &ErrorResult{Kind: KindTransient, ShouldRetry: true, RetryAfter: delayNetwork,
			UserMessage: fmt.Sprintf("Network error reaching %s. Retrying...", describe(ec))}
	}
	return nil
}

func fatal(msg string) *ErrorResult {
	return &ErrorResult{Kind: KindFatal, IsFatal: true, UserMessage: msg}
}

func describe(ec ErrorContext) string {
	switch {
	case ec.ServerName != "":
		return ec.ServerName
	case ec.ServerID != "":
		return "server " + ec.ServerID
	default:
		return "the server"
	}
}

// capitalize upper-cases the first letter for sentence-initial use.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
