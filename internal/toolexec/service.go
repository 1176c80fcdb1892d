package toolexec

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"mcpconnect/internal/catalog"
	"mcpconnect/internal/connection"
	"mcpconnect/internal/errorhandling"
	"mcpconnect/internal/servers"
	"mcpconnect/internal/telemetry"
	"mcpconnect/pkg/logging"
)

// discoveryConcurrency bounds how many servers are queried at once.
const discoveryConcurrency = 8

// ServerSummary is the per-server part of a discovery. It is filled in even
// when the server could not be reached.
type ServerSummary struct {
	ServerID         string                `json:"serverId"`
	ServerName       string                `json:"serverName"`
	URL              string                `json:"url"`
	Success          bool                  `json:"success"`
	FromCache        bool                  `json:"fromCache"`
	ToolCount        int                   `json:"toolCount"`
	AuthRequired     bool                  `json:"authRequired"`
	AuthorizationURL string                `json:"authorizationUrl,omitempty"`
	Error            string                `json:"error,omitempty"`
	Status           connection.LiveStatus `json:"status"`
}

// DiscoveredTool is a catalog entry tagged with its server's auth state.
type DiscoveredTool struct {
	catalog.ToolMetadata
	AuthRequired bool `json:"authRequired"`
}

// Discovery is the result of DiscoverTools.
type Discovery struct {
	Tools   []DiscoveredTool `json:"tools"`
	Servers []ServerSummary  `json:"servers"`
}

// Request identifies a tool call. Either ServerID plus the tool's original
// name, or a normalized name alone, selects the tool.
type Request struct {
	UserID    string         `json:"userId"`
	ServerID  string         `json:"serverId,omitempty"`
	ToolName  string         `json:"toolName"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Result is the uniform outcome of ExecuteTool.
type Result struct {
	Success          bool                       `json:"success"`
	Result           *mcp.CallToolResult        `json:"result,omitempty"`
	Error            *errorhandling.ErrorResult `json:"error,omitempty"`
	ExecutionTime    time.Duration              `json:"executionTime"`
	ConnectionStatus *connection.LiveStatus     `json:"connectionStatus,omitempty"`
	AuthorizationURL string                     `json:"authorizationUrl,omitempty"`
	// Recommendation tells the user what to do about Error.
	Recommendation *errorhandling.Recommendation `json:"recommendation,omitempty"`
}

// Service discovers and executes tools across a user's servers.
type Service struct {
	manager   *connection.Manager
	servers   servers.Store
	catalog   *catalog.Catalog
	telemetry *telemetry.Service
	retry     []errorhandling.RetryOption
}

// Option configures a Service.
type Option func(*Service)

// WithRetryOptions passes options to every ExecuteWithRetry call.
func WithRetryOptions(opts ...errorhandling.RetryOption) Option {
	return func(s *Service) { s.retry = append(s.retry, opts...) }
}

// NewService creates a Service. A nil telemetry service discards events.
func NewService(manager *connection.Manager, store servers.Store, cat *catalog.Catalog, tel *telemetry.Service, opts ...Option) *Service {
	if tel == nil {
		tel = telemetry.New(nil)
	}
	s := &Service{manager: manager, servers: store, catalog: cat, telemetry: tel}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog returns the tool catalog filled by DiscoverTools.
func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog
}

// DiscoverTools fetches capabilities of every enabled server of userID in
// parallel. A failing server is reported in Servers and does not fail the
// discovery; only listing the user's servers can.
func (s *Service) DiscoverTools(ctx context.Context, userID string) (*Discovery, error) {
	records, err := s.servers.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing servers for %s: %w", userID, err)
	}

	var enabled []*servers.Record
	for _, rec := range records {
		if rec.Enabled {
			enabled = append(enabled, rec)
		}
	}

	results := make([]*connection.CapabilitiesResult, len(enabled))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(discoveryConcurrency)
	for i, rec := range enabled {
		g.Go(func() error {
			results[i] = s.manager.GetServerCapabilities(gctx, rec.ID, userID)
			return nil
		})
	}
	_ = g.Wait()

	out := &Discovery{Tools: []DiscoveredTool{}, Servers: make([]ServerSummary, 0, len(enabled))}
	for i, rec := range enabled {
		res := results[i]
		if res.FromCache {
			s.telemetry.Track(telemetry.EventCacheHit, telemetry.Properties{"cache": "tools"})
		} else {
			s.telemetry.Track(telemetry.EventCacheMiss, telemetry.Properties{"cache": "tools"})
		}

		authRequired := rec.AuthStatus != servers.AuthStatusAuthorized || res.RequiresAuth
		out.Servers = append(out.Servers, ServerSummary{
			ServerID:         rec.ID,
			ServerName:       rec.Name,
			URL:              rec.URL,
			Success:          res.Success,
			FromCache:        res.FromCache,
			ToolCount:        len(res.Tools),
			AuthRequired:     authRequired,
			AuthorizationURL: res.AuthorizationURL,
			Error:            res.Error,
			Status:           res.Status,
		})
		if !res.Success {
			continue
		}

		s.catalog.RegisterMetadata(rec.ID, res.Tools)
		for _, md := range res.Tools {
			if registered, ok := s.catalog.FindOnServer(rec.ID, md.Name); ok {
				md = registered
			}
			out.Tools = append(out.Tools, DiscoveredTool{ToolMetadata: md, AuthRequired: authRequired})
		}
	}

	logging.Info("ToolExec", "Discovered %d tools on %d servers for user %s", len(out.Tools), len(enabled), userID)
	return out, nil
}

// ExecuteTool runs a tool call with classification and retries. It never
// returns a Go error: every failure is described in Result.Error.
func (s *Service) ExecuteTool(ctx context.Context, req Request) *Result {
	start := time.Now()
	ec := errorhandling.ErrorContext{Operation: "tool call", ServerID: req.ServerID, ToolName: req.ToolName}
	out := s.execute(ctx, req, &ec)
	out.ExecutionTime = time.Since(start)
	if out.Error != nil {
		rec := errorhandling.GetErrorRecoveryRecommendation(out.Error, ec)
		out.Recommendation = &rec
	}

	outcome := "success"
	if !out.Success {
		outcome = "failure"
	}
	s.telemetry.Track(telemetry.EventToolExecution, telemetry.Properties{
		"outcome":  outcome,
		"duration": telemetry.DurationBucket(out.ExecutionTime),
	})
	// A tool that ran and reported an error is not a critical failure.
	if out.Error != nil && out.Error.IsFatal && out.Result == nil {
		s.telemetry.Track(telemetry.EventCriticalError, telemetry.Properties{"operation": "tool_execution"})
	}
	return out
}

// execute fills ec as the server and tool are resolved.
func (s *Service) execute(ctx context.Context, req Request, ec *errorhandling.ErrorContext) *Result {

	serverID, toolName, md, known := s.resolve(req)
	if serverID == "" {
		return &Result{Error: fatal(fmt.Errorf("tool %q is not in the catalog", req.ToolName), "Unknown tool "+req.ToolName+".")}
	}
	ec.ServerID = serverID
	ec.ToolName = toolName

	rec, err := s.servers.Get(ctx, serverID)
	switch {
	case errors.Is(err, servers.ErrNotFound) || (err == nil && req.UserID != "" && rec.UserID != req.UserID):
		return &Result{Error: fatal(fmt.Errorf("server %s: %w", serverID, servers.ErrNotFound), "Server "+serverID+" was not found.")}
	case err != nil:
		return &Result{Error: errorhandling.HandleError(err, *ec)}
	case !rec.Enabled:
		return &Result{Error: fatal(fmt.Errorf("server %s is disabled", serverID), "Server "+rec.Name+" is disabled.")}
	}
	ec.ServerName = rec.Name

	if known {
		if err := ValidateToolArguments(md, req.Arguments); err != nil {
			return &Result{Error: fatal(err, err.Error())}
		}
	}

	call := func(ctx context.Context) (*mcp.CallToolResult, error) {
		return s.manager.ExecuteToolCall(ctx, serverID, req.UserID, toolName, req.Arguments)
	}
	result, verdict := errorhandling.ExecuteWithRetry(ctx, *ec, func(ctx context.Context) (*mcp.CallToolResult, error) {
		return telemetry.WithTiming(ctx, s.telemetry, "tool_call", call)
	}, append([]errorhandling.RetryOption{errorhandling.WithMaxRetries(s.maxRetries())}, s.retry...)...)

	status := s.manager.Liveness().Get(serverID)
	out := &Result{ConnectionStatus: &status}
	if verdict != nil {
		out.Error = verdict
		var authErr *connection.AuthRequiredError
		if errors.As(verdict.Err, &authErr) {
			out.AuthorizationURL = authErr.AuthorizationURL
		}
		logging.Warn("ToolExec", "Tool %s on server %s failed after %d attempt(s): %s", toolName, serverID, verdict.Attempts, verdict.UserMessage)
		return out
	}

	out.Result = result
	out.Success = !result.IsError
	if result.IsError {
		out.Error = &errorhandling.ErrorResult{
			Kind:        errorhandling.KindFatal,
			IsFatal:     true,
			UserMessage: toolErrorText(result),
			Attempts:    1,
		}
	}
	return out
}

// resolve finds the server and original tool name for req.
func (s *Service) resolve(req Request) (serverID, toolName string, md catalog.ToolMetadata, known bool) {
	if req.ServerID != "" {
		md, known = s.catalog.FindOnServer(req.ServerID, req.ToolName)
		return req.ServerID, req.ToolName, md, known
	}
	if md, ok := s.catalog.Lookup(req.ToolName); ok {
		return md.ServerID, md.Name, md, true
	}
	return "", req.ToolName, catalog.ToolMetadata{}, false
}

func (s *Service) maxRetries() int {
	return s.manager.Config().Connection.MaxRetries
}

func fatal(err error, msg string) *errorhandling.ErrorResult {
	return &errorhandling.ErrorResult{Kind: errorhandling.KindFatal, IsFatal: true, UserMessage: msg, Err: err}
}

func toolErrorText(result *mcp.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if text := mcp.GetTextFromContent(c); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return "The tool reported an error."
	}
	return strings.Join(parts, "\n")
}
