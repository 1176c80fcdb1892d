package formatting

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mark3labs/mcp-go/mcp"

	"mcpconnect/internal/cache"
	"mcpconnect/internal/connection"
	"mcpconnect/internal/errorhandling"
	"mcpconnect/internal/servers"
	"mcpconnect/internal/toolexec"
	"mcpconnect/pkg/logging"
	pkgstrings "mcpconnect/pkg/strings"
)

const descriptionWidth = 60

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
)

// StatusText colours a connection status.
func StatusText(s connection.Status) string {
	switch s {
	case connection.StatusConnected:
		return green(string(s))
	case connection.StatusDisconnected:
		return red(string(s))
	case connection.StatusTesting:
		return yellow(string(s))
	default:
		return faint(string(s))
	}
}

// AuthText colours a server auth status.
func AuthText(s servers.AuthStatus) string {
	switch s {
	case servers.AuthStatusAuthorized:
		return green(string(s))
	case servers.AuthStatusRequired, servers.AuthStatusFailed:
		return yellow(string(s))
	default:
		return faint(string(s))
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// redacted hides credentials from machine-readable record output.
func redacted(records []*servers.Record) []*servers.Record {
	out := make([]*servers.Record, len(records))
	for i, r := range records {
		c := r.Clone()
		if c.AccessToken != "" {
			c.AccessToken = logging.RedactToken(c.AccessToken)
		}
		if c.RefreshToken != "" {
			c.RefreshToken = logging.RedactToken(c.RefreshToken)
		}
		out[i] = c
	}
	return out
}

// Servers prints server records. Tokens are never printed in full.
func (p *Printer) Servers(records []*servers.Record) error {
	return p.print(redacted(records), func(t table.Writer) {
		p.header(t, "ID", "NAME", "URL", "ENABLED", "AUTH")
		for _, r := range records {
			t.AppendRow(table.Row{r.ID, r.Name, r.URL, yesNo(r.Enabled), AuthText(r.AuthStatus)})
		}
	})
}

// AuthRow is one server in auth status output. ValidatedAt is set while a
// live validation of the current token is still cached.
type AuthRow struct {
	ServerID    string             `json:"serverId"`
	Name        string             `json:"name"`
	AuthStatus  servers.AuthStatus `json:"authStatus"`
	ExpiresAt   *time.Time         `json:"expiresAt,omitempty"`
	ValidatedAt *time.Time         `json:"validatedAt,omitempty"`
}

// AuthStatus prints the authorization state of servers.
func (p *Printer) AuthStatus(rows []AuthRow) error {
	return p.print(rows, func(t table.Writer) {
		p.header(t, "ID", "NAME", "AUTH", "EXPIRES", "VALIDATED")
		for _, r := range rows {
			t.AppendRow(table.Row{r.ServerID, r.Name, AuthText(r.AuthStatus), timeOrDash(r.ExpiresAt), timeOrDash(r.ValidatedAt)})
		}
	})
}

func timeOrDash(t *time.Time) string {
	if t == nil {
		return faint("-")
	}
	return t.Local().Format(time.RFC3339)
}

// Capabilities prints a capability fetch or connection test. A failure is
// printed with its recommended next step instead of the tool table.
func (p *Printer) Capabilities(res *connection.CapabilitiesResult) error {
	if !res.Success {
		return p.print(res, func(t table.Writer) {
			p.header(t, "FIELD", "VALUE")
			t.AppendRow(table.Row{"server", res.ServerID})
			t.AppendRow(table.Row{"status", StatusText(res.Status.Status)})
			t.AppendRow(table.Row{"error", res.Error})
			if res.AuthorizationURL != "" {
				t.AppendRow(table.Row{"authorize at", res.AuthorizationURL})
			}
			appendRecommendation(t, res.Recommendation)
		})
	}
	return p.print(res, func(t table.Writer) {
		p.header(t, "TOOL", "CATEGORY", "SAFETY", "DESCRIPTION")
		for _, tool := range res.Tools {
			t.AppendRow(table.Row{tool.Name, tool.Category, tool.SafetyLevel, pkgstrings.TruncateDescription(tool.Description, descriptionWidth)})
		}
		source := "live"
		if res.FromCache {
			source = "cache"
		}
		t.AppendFooter(table.Row{fmt.Sprintf("%d tools", len(res.Tools)), StatusText(res.Status.Status), source, res.ServerVersion})
	})
}

// Discovery prints the tools discovered across a user's servers followed by
// a per-server summary.
func (p *Printer) Discovery(d *toolexec.Discovery) error {
	if p.format != FormatTable {
		return p.print(d, nil)
	}
	if err := p.print(d, func(t table.Writer) {
		p.header(t, "TOOL", "SERVER", "SAFETY", "AUTH", "DESCRIPTION")
		for _, tool := range d.Tools {
			auth := green("ok")
			if tool.AuthRequired {
				auth = yellow("required")
			}
			t.AppendRow(table.Row{tool.NormalizedName, tool.ServerName, tool.SafetyLevel, auth, pkgstrings.TruncateDescription(tool.Description, descriptionWidth)})
		}
	}); err != nil {
		return err
	}
	return p.print(d.Servers, func(t table.Writer) {
		p.header(t, "SERVER", "STATUS", "TOOLS", "SOURCE", "ERROR")
		for _, s := range d.Servers {
			source := "live"
			if s.FromCache {
				source = "cache"
			}
			t.AppendRow(table.Row{s.ServerID, StatusText(s.Status.Status), s.ToolCount, source, s.Error})
		}
	})
}

// ToolResult prints the outcome of a tool call.
func (p *Printer) ToolResult(res *toolexec.Result) error {
	return p.print(res, func(t table.Writer) {
		p.header(t, "FIELD", "VALUE")
		if res.Success {
			t.AppendRow(table.Row{"result", green("success")})
		} else {
			t.AppendRow(table.Row{"result", red("failed")})
		}
		if res.Error != nil {
			t.AppendRow(table.Row{"error", res.Error.UserMessage})
			t.AppendRow(table.Row{"attempts", res.Error.Attempts})
		}
		if res.AuthorizationURL != "" {
			t.AppendRow(table.Row{"authorize at", res.AuthorizationURL})
		}
		appendRecommendation(t, res.Recommendation)
		t.AppendRow(table.Row{"duration", res.ExecutionTime.Round(time.Millisecond)})
		if res.Result != nil {
			t.AppendRow(table.Row{"content", contentText(res.Result)})
		}
	})
}

func appendRecommendation(t table.Writer, r *errorhandling.Recommendation) {
	if r == nil || r.Message == "" {
		return
	}
	t.AppendRow(table.Row{"next step", yellow(r.Title)})
	t.AppendRow(table.Row{"", r.Message})
}

func contentText(r *mcp.CallToolResult) string {
	parts := make([]string, 0, len(r.Content))
	for _, c := range r.Content {
		parts = append(parts, mcp.GetTextFromContent(c))
	}
	return strings.Join(parts, "\n")
}

// CacheStats prints entry counts per cache.
func (p *Printer) CacheStats(stats map[string]cache.Stats) error {
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)
	return p.print(stats, func(t table.Writer) {
		p.header(t, "CACHE", "ENTRIES", "SERVERS")
		for _, name := range names {
			s := stats[name]
			t.AppendRow(table.Row{name, s.Count, strings.Join(s.ServerIDs, ", ")})
		}
	})
}

// Liveness prints the process-local connection table.
func (p *Printer) Liveness(statuses []connection.LiveStatus) error {
	return p.print(statuses, func(t table.Writer) {
		p.header(t, "SERVER", "STATUS", "LATENCY", "PING", "ERROR")
		for _, s := range statuses {
			ping := "?"
			if s.PingSupported != nil {
				ping = yesNo(*s.PingSupported)
			}
			t.AppendRow(table.Row{s.ServerID, StatusText(s.Status), s.Latency.Round(time.Millisecond), ping, s.Error})
		}
	})
}
