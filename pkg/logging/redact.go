package logging

// tokenPrefixLen is how many leading characters of a secret survive redaction.
const tokenPrefixLen = 6

// sessionIDLen is the visible length of a truncated session id.
const sessionIDLen = 8

// RedactToken returns a log-safe form of a bearer or refresh token.
func RedactToken(token string) string {
	if token == "" {
		return "<empty>"
	}
	if len(token) <= tokenPrefixLen {
		return "[REDACTED]"
	}
	return token[:tokenPrefixLen] + "...[REDACTED]"
}

// TruncateSessionID shortens an Mcp-Session-Id for log output.
func TruncateSessionID(sessionID string) string {
	if len(sessionID) <= sessionIDLen {
		return sessionID
	}
	return sessionID[:sessionIDLen] + "..."
}
