package catalog

import (
	"regexp"
	"strings"

	pkgstrings "mcpconnect/pkg/strings"
)

const (
	// MaxNormalizedNameLen is the longest tool name accepted by downstream model APIs.
	MaxNormalizedNameLen = 63

	compactHead = 28
	compactTail = 32
	compactSep  = "___"
)

// NormalizedNamePattern is the shape every normalized tool name satisfies.
var NormalizedNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.-]{0,62}$`)

func isNameChar(r rune) bool {
	return r == '_' || r == '.' || r == '-' ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// NormalizeToolName turns an arbitrary string into a valid tool identifier:
// disallowed characters become '_', a leading non-letter gets a '_' prefix,
// and names longer than 63 characters keep their first 28 and last 32
// characters joined by "___".
func NormalizeToolName(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 1)
	for _, r := range name {
		if isNameChar(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	out := b.String()

	if out == "" {
		out = "_"
	}
	if first := out[0]; !(first == '_' || (first >= 'a' && first <= 'z') || (first >= 'A' && first <= 'Z')) {
		out = "_" + out
	}

	return pkgstrings.CompactHeadTail(out, MaxNormalizedNameLen, compactHead, compactTail, compactSep)
}

// ComposeName builds the catalog-wide name for a tool: server name and tool
// name joined by '_', then normalized.
func ComposeName(serverName, toolName string) string {
	if serverName == "" {
		return NormalizeToolName(toolName)
	}
	return NormalizeToolName(serverName + "_" + toolName)
}
