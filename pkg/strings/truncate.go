package strings

import (
	"strings"
)

// DefaultDescriptionMaxLen is the default maximum length for descriptions in CLI tables.
const DefaultDescriptionMaxLen = 60

// MinTruncateLen is the smallest maxLen TruncateDescription accepts; smaller
// values are clamped so at least one character plus "..." fits.
const MinTruncateLen = 4

// TruncateDescription collapses all whitespace runs to single spaces and cuts
// the result to maxLen runes, ending with "..." when truncated.
func TruncateDescription(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}

// CompactHeadTail shortens s to at most maxLen bytes by keeping its first
// head bytes and last tail bytes joined by sep. Strings already within
// maxLen are returned unchanged. Callers pick head+len(sep)+tail == maxLen.
//
// Operates on bytes; intended for ASCII identifiers.
func CompactHeadTail(s string, maxLen, head, tail int, sep string) string {
	if len(s) <= maxLen {
		return s
	}
	if head+tail >= len(s) {
		return s[:maxLen]
	}
	return s[:head] + sep + s[len(s)-tail:]
}
