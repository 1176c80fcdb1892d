// Package jsonrpc implements the JSON-RPC 2.0 framing used to talk to MCP
// servers over HTTP: request envelopes, typed result decoding, batch
// handling, and an incremental text/event-stream reader.
//
// Responses are correlated to requests by numeric id. A stream is read until
// the first response carrying the outstanding id; only one request is
// outstanding per stream.
package jsonrpc
