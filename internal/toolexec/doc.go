// Package toolexec discovers tools across a user's MCP servers and executes
// tool calls with argument validation, error classification and retries.
package toolexec
