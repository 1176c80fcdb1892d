package catalog

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"mcpconnect/pkg/logging"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

// toolIDNamespace scopes deterministic tool ids.
var toolIDNamespace = uuid.MustParse("6f1d3c1e-3b0a-4f0e-9a55-2f1f7c0c9a11")

// ToolID returns a stable id for a tool on a server.
func ToolID(serverID, toolName string) string {
	return uuid.NewSHA1(toolIDNamespace, []byte(serverID+"/"+toolName)).String()
}

// FromMCPTool derives catalog metadata from a raw tools/list entry.
func FromMCPTool(serverID, serverName string, tool mcp.Tool) ToolMetadata {
	params := parametersFromSchema(tool.InputSchema)

	description := tool.Description
	if description == "" {
		description = tool.Annotations.Title
	}

	md := ToolMetadata{
		ID:             ToolID(serverID, tool.Name),
		Name:           tool.Name,
		NormalizedName: ComposeName(serverName, tool.Name),
		Description:    description,
		ServerName:     serverName,
		ServerID:       serverID,
		Parameters:     params,
		Category:       Categorize(tool.Name, description),
		SafetyLevel:    ClassifySafety(tool.Name, description, tool.Annotations.DestructiveHint),
		Usage:          usage(tool.Name, params),
	}
	if hint := tool.Annotations.ReadOnlyHint; hint != nil && *hint {
		md.Tags = append(md.Tags, "read-only")
	}
	if hint := tool.Annotations.OpenWorldHint; hint != nil && *hint {
		md.Tags = append(md.Tags, "open-world")
	}
	return md
}

func parametersFromSchema(schema mcp.ToolInputSchema) []Parameter {
	required := make(map[string]bool, len(schema.Required))
	for _, r := range schema.Required {
		required[r] = true
	}

	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]Parameter, 0, len(names))
	for _, name := range names {
		p := Parameter{Name: name, Required: required[name], Type: "any"}
		if prop, ok := schema.Properties[name].(map[string]any); ok {
			if t, ok := prop["type"].(string); ok {
				p.Type = t
			}
			if d, ok := prop["description"].(string); ok {
				p.Description = d
			}
			if nested, ok := prop["properties"].(map[string]any); ok {
				p.Properties = nested
			}
			if enum, ok := prop["enum"].([]any); ok {
				p.Enum = enum
			}
		}
		params = append(params, p)
	}
	return params
}

// usage renders a call signature such as "search(query, limit?)".
func usage(name string, params []Parameter) string {
	parts := make([]string, 0, len(params))
	for _, p := range params {
		if p.Required {
			parts = append(parts, p.Name)
		} else {
			parts = append(parts, p.Name+"?")
		}
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(parts, ", "))
}

// Catalog indexes tool metadata across servers by normalized name.
// It is an explicitly constructed service; callers own its lifetime.
type Catalog struct {
	mu       sync.RWMutex
	byName   map[string]ToolMetadata
	byServer map[string][]string
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{
		byName:   make(map[string]ToolMetadata),
		byServer: make(map[string][]string),
	}
}

// Register replaces a server's tools with freshly derived metadata. On a
// normalized-name collision with another server, the later tool gets its
// id suffix appended so both stay addressable.
func (c *Catalog) Register(serverID, serverName string, tools []mcp.Tool) []ToolMetadata {
	out := make([]ToolMetadata, 0, len(tools))
	for _, t := range tools {
		out = append(out, FromMCPTool(serverID, serverName, t))
	}
	c.RegisterMetadata(serverID, out)
	return out
}

// RegisterMetadata replaces a server's tools with already-derived metadata,
// as read back from the capability cache.
func (c *Catalog) RegisterMetadata(serverID string, tools []ToolMetadata) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeLocked(serverID)
	names := make([]string, 0, len(tools))
	for i := range tools {
		md := tools[i]
		if existing, ok := c.byName[md.NormalizedName]; ok && existing.ServerID != serverID {
			md.NormalizedName = NormalizeToolName(md.NormalizedName + "_" + md.ID[:8])
			logging.Debug("Catalog", "Tool name collision for %s, using %s", existing.NormalizedName, md.NormalizedName)
		}
		c.byName[md.NormalizedName] = md
		names = append(names, md.NormalizedName)
	}
	c.byServer[serverID] = names
}

// Remove drops every tool registered for a server.
func (c *Catalog) Remove(serverID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(serverID)
}

func (c *Catalog) removeLocked(serverID string) {
	for _, name := range c.byServer[serverID] {
		delete(c.byName, name)
	}
	delete(c.byServer, serverID)
}

// Lookup finds a tool by normalized name.
func (c *Catalog) Lookup(normalizedName string) (ToolMetadata, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	md, ok := c.byName[normalizedName]
	return md, ok
}

// FindOnServer finds a tool by its original name on a given server.
func (c *Catalog) FindOnServer(serverID, toolName string) (ToolMetadata, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, name := range c.byServer[serverID] {
		if md := c.byName[name]; md.Name == toolName {
			return md, true
		}
	}
	return ToolMetadata{}, false
}

// All returns every tool sorted by normalized name.
func (c *Catalog) All() []ToolMetadata {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ToolMetadata, 0, len(c.byName))
	for _, md := range c.byName {
		out = append(out, md)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NormalizedName < out[j].NormalizedName })
	return out
}
