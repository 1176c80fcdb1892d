package errorhandling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"mcpconnect/internal/jsonrpc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func TestHandleError_JSONRPCCodes(t *testing.T) {
	tests := []struct {
		code      int
		wantRetry bool
		wantFatal bool
		wantAuth  bool
		wantDelay time.Duration
		wantKind  Kind
	}{
		{jsonrpc.CodeUnauthorized, false, false, true, 0, KindAuthRequired},
		{jsonrpc.CodeForbidden, false, true, false, 0, KindFatal},
		{jsonrpc.CodeMethodNotFound, false, true, false, 0, KindFatal},
		{jsonrpc.CodeInvalidParams, false, true, false, 0, KindFatal},
		{jsonrpc.CodeCancelled, false, true, false, 0, KindFatal},
		{jsonrpc.CodeParseError, false, true, false, 0, KindProtocol},
		{jsonrpc.CodeInvalidRequest, false, true, false, 0, KindProtocol},
		{jsonrpc.CodeTimeout, true, false, false, 2 * time.Second, KindTransient},
		{jsonrpc.CodeInternalError, true, false, false, 3 * time.Second, KindTransient},
		{-32050, true, false, false, 0, KindTransient},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			err := fmt.Errorf("calling tool: %w", &jsonrpc.Error{Code: tt.code, Message: "boom"})
			r := HandleError(err, ErrorContext{ServerName: "GitHub"})
			require.NotNil(t, r)
			assert.Equal(t, tt.wantRetry, r.ShouldRetry)
			assert.Equal(t, tt.wantFatal, r.IsFatal)
			assert.Equal(t, tt.wantAuth, r.RequiresAuth)
			assert.Equal(t, tt.wantDelay, r.RetryAfter)
			assert.Equal(t, tt.wantKind, r.Kind)
			assert.NotEmpty(t, r.UserMessage)
		})
	}
}

func TestHandleError_HTTPStatus(t *testing.T) {
	tests := []struct {
		status     int
		retryAfter string
		wantRetry  bool
		wantAuth   bool
		wantFatal  bool
		wantDelay  time.Duration
	}{
		{http.StatusUnauthorized, "", false, true, false, 0},
		{http.StatusForbidden, "", false, false, true, 0},
		{http.StatusNotFound, "", false, false, true, 0},
		{http.StatusTooManyRequests, "7", true, false, false, 7 * time.Second},
		{http.StatusTooManyRequests, "", true, false, false, 5 * time.Second},
		{http.StatusTooManyRequests, "86400", true, false, false, MaxRetryAfter},
		{http.StatusServiceUnavailable, "20", true, false, false, 20 * time.Second},
		{http.StatusServiceUnavailable, "600", true, false, false, MaxRetryAfter},
		{http.StatusBadGateway, "", true, false, false, 3 * time.Second},
		{http.StatusConflict, "", false, false, true, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			r := HandleError(&HTTPError{StatusCode: tt.status, RetryAfter: tt.retryAfter}, ErrorContext{})
			assert.Equal(t, tt.wantRetry, r.ShouldRetry)
			assert.Equal(t, tt.wantAuth, r.RequiresAuth)
			assert.Equal(t, tt.wantFatal, r.IsFatal)
			assert.Equal(t, tt.wantDelay, r.RetryAfter)
		})
	}
}

func TestHandleError_LongRetryAfterIsReported(t *testing.T) {
	r := HandleError(&HTTPError{StatusCode: http.StatusTooManyRequests, RetryAfter: "86400"}, ErrorContext{ServerName: "GitHub"})

	assert.Equal(t, MaxRetryAfter, r.RetryAfter)
	assert.Contains(t, r.UserMessage, "24h0m0s")
	assert.Contains(t, r.UserMessage, "Retrying in 1m0s")

	r = HandleError(&HTTPError{StatusCode: http.StatusTooManyRequests, RetryAfter: "7"}, ErrorContext{})
	assert.NotContains(t, r.UserMessage, "asked to wait")
}

func TestHandleError_Network(t *testing.T) {
	urlErr := &url.Error{Op: "Post", URL: "https://x", Err: errors.New("connection refused")}
	r := HandleError(&NetworkError{Op: "tools/call", Err: urlErr}, ErrorContext{})
	assert.True(t, r.ShouldRetry)
	assert.Equal(t, 1500*time.Millisecond, r.RetryAfter)

	r = HandleError(&NetworkError{Op: "fetch", Err: errors.New("blocked by CORS policy")}, ErrorContext{})
	assert.True(t, r.IsFatal)
	assert.False(t, r.ShouldRetry)

	r = HandleError(errors.New("request timeout while reading body"), ErrorContext{})
	assert.True(t, r.ShouldRetry)
	assert.Equal(t, 2*time.Second, r.RetryAfter)

	r = HandleError(context.Canceled, ErrorContext{})
	assert.True(t, r.IsFatal)
}

func TestHandleError_Generic(t *testing.T) {
	r := HandleError(errors.New("something odd"), ErrorContext{})
	assert.True(t, r.ShouldRetry)
	assert.Equal(t, "something odd", r.UserMessage)
	assert.Nil(t, HandleError(nil, ErrorContext{}))
}

type authNeeded struct{}

func (authNeeded) Error() string      { return "token rejected upstream" }
func (authNeeded) AuthRequired() bool { return true }

func TestHandleError_AuthRequirer(t *testing.T) {
	err := fmt.Errorf("calling tool: %w", authNeeded{})
	r := HandleError(err, ErrorContext{ServerName: "github"})

	assert.Equal(t, KindAuthRequired, r.Kind)
	assert.True(t, r.RequiresAuth)
	assert.False(t, r.ShouldRetry)
	assert.Equal(t, "Github requires authentication.", r.UserMessage)
	assert.True(t, Is401Error(err))
}

func TestExecuteWithRetry_RetryBound(t *testing.T) {
	s := &recordingSleeper{}
	calls := 0
	_, res := ExecuteWithRetry(context.Background(), ErrorContext{Operation: "tools/call"},
		func(context.Context) (string, error) {
			calls++
			return "", errors.New("something odd")
		},
		WithMaxRetries(2), WithSleeper(s.sleep))

	require.NotNil(t, res)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, s.delays)
}

func TestExecuteWithRetry_FatalShortCircuit(t *testing.T) {
	s := &recordingSleeper{}
	calls := 0
	_, res := ExecuteWithRetry(context.Background(), ErrorContext{},
		func(context.Context) (int, error) {
			calls++
			return 0, &jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound, Message: "Method not found"}
		},
		WithMaxRetries(5), WithSleeper(s.sleep))

	require.NotNil(t, res)
	assert.Equal(t, 1, calls)
	assert.True(t, res.IsFatal)
	assert.Empty(t, s.delays)
}

func TestExecuteWithRetry_UsesRetryAfter(t *testing.T) {
	s := &recordingSleeper{}
	calls := 0
	got, res := ExecuteWithRetry(context.Background(), ErrorContext{},
		func(context.Context) (string, error) {
			calls++
			if calls == 1 {
				return "", &HTTPError{StatusCode: http.StatusTooManyRequests, RetryAfter: "1"}
			}
			return "ok", nil
		},
		WithSleeper(s.sleep))

	assert.Nil(t, res)
	assert.Equal(t, "ok", got)
	assert.Equal(t, []time.Duration{time.Second}, s.delays)
}

func TestExecuteWithRetry_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, res := ExecuteWithRetry(ctx, ErrorContext{},
		func(context.Context) (string, error) {
			calls++
			cancel()
			return "", &HTTPError{StatusCode: http.StatusBadGateway}
		})

	require.NotNil(t, res)
	assert.Equal(t, 1, calls)
	assert.True(t, res.IsFatal)
	assert.ErrorIs(t, res, context.Canceled)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, Backoff(1))
	assert.Equal(t, 2*time.Second, Backoff(2))
	assert.Equal(t, 4*time.Second, Backoff(3))
}

func TestPredicates(t *testing.T) {
	assert.True(t, Is401Error(&HTTPError{StatusCode: 401}))
	assert.True(t, Is401Error(&jsonrpc.Error{Code: jsonrpc.CodeUnauthorized}))
	assert.True(t, IsProxyAuthError(&HTTPError{StatusCode: 407}))
	assert.True(t, IsMCPProtocolError(fmt.Errorf("x: %w", &jsonrpc.Error{Code: -32600})))
	assert.True(t, IsMCPProtocolError(jsonrpc.ErrNoResponse))
	assert.True(t, IsTransportError(&NetworkError{Op: "dial", Err: errors.New("refused")}))
	assert.False(t, IsTransportError(&HTTPError{StatusCode: 500}))
	assert.True(t, IsRateLimitError(&HTTPError{StatusCode: 429}))
	assert.True(t, IsServerError(&HTTPError{StatusCode: 503}))
	assert.False(t, IsServerError(&HTTPError{StatusCode: 404}))
	assert.True(t, IsClientError(&HTTPError{StatusCode: 404}))
}

func TestGetErrorRecoveryRecommendation(t *testing.T) {
	ec := ErrorContext{ServerName: "GitHub", ToolName: "create_issue"}

	rec := GetErrorRecoveryRecommendation(HandleError(&HTTPError{StatusCode: 401}, ec), ec)
	assert.Equal(t, ActionReauthenticate, rec.Action)
	assert.Equal(t, `GitHub needs you to authorize access again before "create_issue" can run.`, rec.Message)

	rec = GetErrorRecoveryRecommendation(HandleError(&HTTPError{StatusCode: 429, RetryAfter: "30"}, ec), ec)
	assert.Equal(t, ActionWaitAndRetry, rec.Action)
	assert.Contains(t, rec.Message, "30s")

	rec = GetErrorRecoveryRecommendation(HandleError(&HTTPError{StatusCode: 403}, ec), ec)
	assert.Equal(t, ActionReconfigure, rec.Action)

	rec = GetErrorRecoveryRecommendation(HandleError(&jsonrpc.Error{Code: jsonrpc.CodeCancelled}, ec), ec)
	assert.Equal(t, ActionAbort, rec.Action)

	res := HandleError(&HTTPError{StatusCode: 502}, ec)
	res.Attempts = 3
	rec = GetErrorRecoveryRecommendation(res, ec)
	assert.Equal(t, ActionRetry, rec.Action)
	assert.Contains(t, rec.Message, "after 3 attempts")
}
