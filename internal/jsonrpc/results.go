package jsonrpc

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// Typed results for the methods this client calls. Payloads are narrowed at
// the parse boundary and never travel further as raw maps.
type (
	InitializeResult  = mcp.InitializeResult
	ToolsListResult   = mcp.ListToolsResult
	PromptsListResult = mcp.ListPromptsResult
)

// Resource is the MCP-compliant subset of a resources/list entry. Decoding
// into it drops server-specific extension fields.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
}

// ResourcesListResult is the filtered resources/list result.
type ResourcesListResult struct {
	Resources  []Resource `json:"resources"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

// FilterResources drops entries without a uri.
func FilterResources(in []Resource) []Resource {
	out := make([]Resource, 0, len(in))
	for _, r := range in {
		if r.URI != "" {
			out = append(out, r)
		}
	}
	return out
}

// Decode unmarshals a successful result into T. An embedded error object is
// returned as *Error.
func Decode[T any](resp *Response) (*T, error) {
	if resp == nil {
		return nil, ErrNoResponse
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	var out T
	if len(resp.Result) == 0 {
		return &out, nil
	}
	if err := json.Unmarshal(resp.Result, &out); err != nil {
		return nil, fmt.Errorf("decoding %T: %w", out, err)
	}
	return &out, nil
}

// DecodeCallToolResult narrows a tools/call result, including its typed content blocks.
func DecodeCallToolResult(resp *Response) (*mcp.CallToolResult, error) {
	if resp == nil {
		return nil, ErrNoResponse
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	raw := json.RawMessage(resp.Result)
	return mcp.ParseCallToolResult(&raw)
}

// DecodeResources narrows a resources/list result and filters it.
func DecodeResources(resp *Response) (*ResourcesListResult, error) {
	out, err := Decode[ResourcesListResult](resp)
	if err != nil {
		return nil, err
	}
	out.Resources = FilterResources(out.Resources)
	return out, nil
}

// InitializeParams builds initialize params for this client.
func InitializeParams(clientName, clientVersion string) mcp.InitializeParams {
	var p mcp.InitializeParams
	p.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	p.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}
	return p
}

// CallToolParams builds tools/call params.
func CallToolParams(name string, args map[string]any) mcp.CallToolParams {
	if args == nil {
		args = map[string]any{}
	}
	return mcp.CallToolParams{Name: name, Arguments: args}
}
