package catalog

// SafetyLevel is a best-effort hint about how much damage a tool can do.
// It is a classification aid for UIs, not an enforcement mechanism.
type SafetyLevel string

const (
	SafetySafe       SafetyLevel = "safe"
	SafetyCaution    SafetyLevel = "caution"
	SafetyRestricted SafetyLevel = "restricted"
)

// Category is a heuristic grouping of tools.
type Category string

const (
	CategoryFileSystem     Category = "file-system"
	CategoryWebAPI         Category = "web-api"
	CategoryDataProcessing Category = "data-processing"
	CategorySearch         Category = "search"
	CategoryCodeExecution  Category = "code-execution"
	CategoryGeneral        Category = "general"
)

// Parameter is one top-level argument of a tool's input schema.
type Parameter struct {
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Description string         `json:"description,omitempty"`
	Required    bool           `json:"required,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
	Enum        []any          `json:"enum,omitempty"`
}

// ToolMetadata is the catalog view of one server tool. It is derived from
// the server's tools/list output and regenerated whenever that server's
// catalog is registered again.
type ToolMetadata struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	NormalizedName string      `json:"normalizedName"`
	Description    string      `json:"description,omitempty"`
	ServerName     string      `json:"serverName"`
	ServerID       string      `json:"serverId"`
	Parameters     []Parameter `json:"parameters"`
	Category       Category    `json:"category,omitempty"`
	Tags           []string    `json:"tags,omitempty"`
	Usage          string      `json:"usage,omitempty"`
	SafetyLevel    SafetyLevel `json:"safetyLevel"`
}

// RequiredParameters returns the names of required parameters in schema order.
func (t ToolMetadata) RequiredParameters() []string {
	var out []string
	for _, p := range t.Parameters {
		if p.Required {
			out = append(out, p.Name)
		}
	}
	return out
}

// Parameter looks up a parameter by name.
func (t ToolMetadata) Parameter(name string) (Parameter, bool) {
	for _, p := range t.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}
