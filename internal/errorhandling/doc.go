// Package errorhandling classifies failures from MCP and OAuth calls and
// drives the retry policy around them.
//
// HandleError inspects typed errors first (*jsonrpc.Error, *NetworkError,
// *HTTPError) and only falls back to message substrings for opaque errors.
// ExecuteWithRetry wraps an operation with bounded retries and always
// returns a classified *ErrorResult on failure.
package errorhandling
