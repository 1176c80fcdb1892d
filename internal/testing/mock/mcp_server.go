package mock

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"mcpconnect/internal/jsonrpc"
)

// AcceptPolicy controls how picky the server is about the Accept header.
type AcceptPolicy int

const (
	// AcceptAnything serves every request.
	AcceptAnything AcceptPolicy = iota
	// AcceptWildcardOnly answers 406 unless Accept is exactly */*.
	AcceptWildcardOnly
	// AcceptNoneOnly answers 406 whenever an Accept header is present.
	AcceptNoneOnly
)

// ToolHandler answers a tools/call. A non-nil *jsonrpc.Error is returned as
// the JSON-RPC error.
type ToolHandler func(name string, args map[string]any) (*mcp.CallToolResult, *jsonrpc.Error)

// MCPServerConfig configures the mock MCP server behavior
type MCPServerConfig struct {
	Name    string
	Version string

	// PingSupported answers ping; otherwise ping gets -32601.
	PingSupported bool

	Accept AcceptPolicy

	// Sessions issues Mcp-Session-Id on initialize and answers 404 for
	// requests carrying an unknown session.
	Sessions bool

	// RequireSession implies Sessions and answers 400 to any request other
	// than initialize that arrives without a session id.
	RequireSession bool

	// EventStream frames replies as text/event-stream.
	EventStream bool

	// BearerToken requires this token. Requests without it get 401.
	BearerToken string

	// AuthorizationServer, when set together with BearerToken, is advertised
	// through RFC 9728 protected resource metadata.
	AuthorizationServer string

	Tools       []mcp.Tool
	ToolHandler ToolHandler

	// Resources are served verbatim so extension fields reach the client.
	Resources []map[string]any
	Prompts   []mcp.Prompt
}

// RecordedRequest is one HTTP request seen by the server.
type RecordedRequest struct {
	Method        string
	Accept        string
	Authorization string
	SessionID     string
	Status        int
}

// MCPServer is a JSON-RPC over HTTP MCP server.
type MCPServer struct {
	config MCPServerConfig
	server *httptest.Server

	mu       sync.Mutex
	sessions map[string]bool
	requests []RecordedRequest
}

// NewMCPServer starts a mock MCP server that is closed when the test ends.
func NewMCPServer(t testing.TB, config MCPServerConfig) *MCPServer {
	t.Helper()
	if config.Name == "" {
		config.Name = "mock-mcp"
	}
	if config.Version == "" {
		config.Version = "1.0.0"
	}
	s := &MCPServer{config: config, sessions: make(map[string]bool)}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/oauth-protected-resource", s.handleProtectedResource)
	mux.HandleFunc("/", s.handleRPC)
	s.server = httptest.NewServer(mux)
	t.Cleanup(s.server.Close)
	return s
}

// URL returns the MCP endpoint.
func (s *MCPServer) URL() string {
	return s.server.URL + "/mcp"
}

// Requests returns the JSON-RPC requests received, including rejected ones.
func (s *MCPServer) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecordedRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// MethodCount returns how many requests used method.
func (s *MCPServer) MethodCount(method string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method {
			n++
		}
	}
	return n
}

// ExpireSessions forgets every issued session id.
func (s *MCPServer) ExpireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]bool)
}

// WWWAuthenticate is the challenge sent with 401 responses.
func (s *MCPServer) WWWAuthenticate() string {
	return fmt.Sprintf(`Bearer realm="mock", resource="%s", resource_metadata="%s/.well-known/oauth-protected-resource"`,
		s.URL(), s.server.URL)
}

func (s *MCPServer) handleProtectedResource(w http.ResponseWriter, _ *http.Request) {
	if s.config.AuthorizationServer == "" {
		http.NotFound(w, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resource":              s.URL(),
		"authorization_servers": []string{s.config.AuthorizationServer},
	})
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func (s *MCPServer) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req rpcRequest
	decodeErr := json.NewDecoder(r.Body).Decode(&req)

	rec := RecordedRequest{
		Method:        req.Method,
		Accept:        r.Header.Get("Accept"),
		Authorization: r.Header.Get("Authorization"),
		SessionID:     r.Header.Get("Mcp-Session-Id"),
	}
	status := s.serve(w, r, &req, decodeErr, &rec)
	rec.Status = status

	s.mu.Lock()
	s.requests = append(s.requests, rec)
	s.mu.Unlock()
}

func (s *MCPServer) serve(w http.ResponseWriter, r *http.Request, req *rpcRequest, decodeErr error, rec *RecordedRequest) int {
	if tok := s.config.BearerToken; tok != "" && rec.Authorization != "Bearer "+tok {
		w.Header().Set("WWW-Authenticate", s.WWWAuthenticate())
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return http.StatusUnauthorized
	}
	if !s.acceptable(r) {
		http.Error(w, "not acceptable", http.StatusNotAcceptable)
		return http.StatusNotAcceptable
	}
	if decodeErr != nil {
		s.reply(w, nil, nil, &jsonrpc.Error{Code: jsonrpc.CodeParseError, Message: "Parse error"}, "")
		return http.StatusOK
	}

	sessionID := ""
	if s.config.Sessions || s.config.RequireSession {
		if req.Method == jsonrpc.MethodInitialize {
			sessionID = uuid.NewString()
			s.mu.Lock()
			s.sessions[sessionID] = true
			s.mu.Unlock()
		} else if rec.SessionID != "" {
			s.mu.Lock()
			known := s.sessions[rec.SessionID]
			s.mu.Unlock()
			if !known {
				http.Error(w, "session not found", http.StatusNotFound)
				return http.StatusNotFound
			}
		} else if s.config.RequireSession {
			http.Error(w, "Bad Request: Invalid session ID", http.StatusBadRequest)
			return http.StatusBadRequest
		}
	}

	if len(req.ID) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return http.StatusAccepted
	}

	result, rpcErr := s.dispatch(req)
	s.reply(w, req.ID, result, rpcErr, sessionID)
	return http.StatusOK
}

func (s *MCPServer) acceptable(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	switch s.config.Accept {
	case AcceptWildcardOnly:
		return accept == "*/*"
	case AcceptNoneOnly:
		return accept == ""
	default:
		return true
	}
}

func (s *MCPServer) dispatch(req *rpcRequest) (any, *jsonrpc.Error) {
	switch req.Method {
	case jsonrpc.MethodInitialize:
		return map[string]any{
			"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
			"capabilities": map[string]any{
				"tools":     map[string]any{"listChanged": true},
				"resources": map[string]any{},
				"prompts":   map[string]any{},
			},
			"serverInfo": map[string]any{"name": s.config.Name, "version": s.config.Version},
		}, nil
	case jsonrpc.MethodPing:
		if !s.config.PingSupported {
			return nil, &jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound, Message: "Method not found"}
		}
		return map[string]any{}, nil
	case jsonrpc.MethodToolsList:
		tools := s.config.Tools
		if tools == nil {
			tools = []mcp.Tool{}
		}
		return map[string]any{"tools": tools}, nil
	case jsonrpc.MethodResourcesList:
		resources := s.config.Resources
		if resources == nil {
			resources = []map[string]any{}
		}
		return map[string]any{"resources": resources}, nil
	case jsonrpc.MethodPromptsList:
		prompts := s.config.Prompts
		if prompts == nil {
			prompts = []mcp.Prompt{}
		}
		return map[string]any{"prompts": prompts}, nil
	case jsonrpc.MethodToolsCall:
		var params struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
		}
		if s.config.ToolHandler != nil {
			return s.config.ToolHandler(params.Name, params.Arguments)
		}
		return mcp.NewToolResultText("called " + params.Name), nil
	default:
		return nil, &jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound, Message: "Method not found"}
	}
}

func (s *MCPServer) reply(w http.ResponseWriter, id json.RawMessage, result any, rpcErr *jsonrpc.Error, sessionID string) {
	msg := map[string]any{"jsonrpc": jsonrpc.Version, "id": id}
	if rpcErr != nil {
		msg["error"] = rpcErr
	} else {
		msg["result"] = result
	}
	body, _ := json.Marshal(msg)

	if sessionID != "" {
		w.Header().Set("Mcp-Session-Id", sessionID)
	}
	if !s.config.EventStream {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	var b strings.Builder
	b.WriteString("event: message\n")
	b.WriteString(`data: {"jsonrpc":"2.0","method":"notifications/message","params":{"level":"info","data":"working"}}` + "\n\n")
	b.WriteString("event: message\n")
	b.WriteString("data: " + string(body) + "\n\n")
	_, _ = w.Write([]byte(b.String()))
}
