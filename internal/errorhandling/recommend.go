package errorhandling

import (
	"bytes"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
)

// Action is the remediation a user should take.
type Action string

const (
	ActionReauthenticate Action = "reauthenticate"
	ActionReconfigure    Action = "reconfigure"
	ActionWaitAndRetry   Action = "wait_and_retry"
	ActionRetry          Action = "retry"
	ActionAbort          Action = "abort"
)

// Recommendation is user-facing remediation copy for a failure.
type Recommendation struct {
	Action  Action `json:"action"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

type recommendationTemplate struct {
	action Action
	title  string
	body   *template.Template
}

func mustTemplate(name, text string) *template.Template {
	return template.Must(template.New(name).Funcs(sprig.TxtFuncMap()).Parse(text))
}

var recommendations = map[Action]recommendationTemplate{
	ActionReauthenticate: {
		action: ActionReauthenticate,
		title:  "Sign in again",
		body:   mustTemplate("reauth", `{{ .Server | default "The server" }} needs you to authorize access again{{ if .Tool }} before {{ .Tool | quote }} can run{{ end }}.`),
	},
	ActionReconfigure: {
		action: ActionReconfigure,
		title:  "Check the server settings",
		body:   mustTemplate("reconfigure", `{{ .Server | default "The server" }} rejected the request: {{ .Detail | trunc 160 }}. Check its URL and permissions.`),
	},
	ActionWaitAndRetry: {
		action: ActionWaitAndRetry,
		title:  "Wait and try again",
		body:   mustTemplate("wait", `{{ .Server | default "The server" }} is rate limiting requests. Try again in {{ .Wait }}.`),
	},
	ActionRetry: {
		action: ActionRetry,
		title:  "Try again",
		body:   mustTemplate("retry", `{{ .Server | default "The server" }} could not be reached{{ if .Attempts }} after {{ .Attempts }} {{ if eq .Attempts 1 }}attempt{{ else }}attempts{{ end }}{{ end }}. {{ .Detail | trunc 160 }}`),
	},
	ActionAbort: {
		action: ActionAbort,
		title:  "Request failed",
		body:   mustTemplate("abort", `{{ .Detail | trunc 200 | default "The request cannot be completed." }}`),
	},
}

// GetErrorRecoveryRecommendation maps a classified failure to remediation
// copy. It is independent of the retry loop.
func GetErrorRecoveryRecommendation(result *ErrorResult, ec ErrorContext) Recommendation {
	if result == nil {
		return Recommendation{}
	}

	action := ActionRetry
	switch {
	case result.RequiresAuth:
		action = ActionReauthenticate
	case IsRateLimitError(result.Err):
		action = ActionWaitAndRetry
	case IsProxyAuthError(result.Err) || IsClientError(result.Err):
		action = ActionReconfigure
	case result.IsFatal:
		action = ActionAbort
	}

	tmpl := recommendations[action]
	wait := result.RetryAfter
	if wait <= 0 {
		wait = delayRateLimit
	}
	data := map[string]any{
		"Server":   ec.ServerName,
		"Tool":     ec.ToolName,
		"Detail":   result.UserMessage,
		"Wait":     wait.Round(time.Second).String(),
		"Attempts": result.Attempts,
	}

	var buf bytes.Buffer
	msg := result.UserMessage
	if err := tmpl.body.Execute(&buf, data); err == nil {
		msg = buf.String()
	}
	return Recommendation{Action: tmpl.action, Title: tmpl.title, Message: msg}
}
