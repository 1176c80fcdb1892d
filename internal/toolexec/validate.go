package toolexec

import (
	"fmt"
	"sort"
	"strings"

	"mcpconnect/internal/catalog"
)

// ValidationError lists argument problems found before dispatch.
type ValidationError struct {
	Tool    string
	Missing []string
	Unknown []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, "unknown "+strings.Join(e.Unknown, ", "))
	}
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(parts, "; "))
}

// ValidateToolArguments checks that every required parameter is present and
// that no argument falls outside the tool's declared parameters.
func ValidateToolArguments(tool catalog.ToolMetadata, args map[string]any) error {
	verr := &ValidationError{Tool: tool.Name}
	for _, name := range tool.RequiredParameters() {
		if v, ok := args[name]; !ok || v == nil {
			verr.Missing = append(verr.Missing, name)
		}
	}
	for name := range args {
		if _, ok := tool.Parameter(name); !ok {
			verr.Unknown = append(verr.Unknown, name)
		}
	}
	if len(verr.Missing) == 0 && len(verr.Unknown) == 0 {
		return nil
	}
	sort.Strings(verr.Unknown)
	return verr
}
