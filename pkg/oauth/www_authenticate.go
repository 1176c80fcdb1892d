package oauth

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// authParamRegex matches key=value auth-params. Values may be double-quoted
// (with backslash escapes), single-quoted, angle-bracketed or bare tokens.
var authParamRegex = regexp.MustCompile(
	`([A-Za-z_][A-Za-z0-9_\-]*)\s*=\s*(?:"((?:[^"\\]|\\.)*)"|'([^']*)'|<([^>]*)>|([^\s,]+))`)

// ParseWWWAuthenticate parses a WWW-Authenticate header value.
// Only the Bearer challenge is interpreted; other schemes in a
// comma-joined header are skipped.
//
// Example headers:
//
//	Bearer realm="mcp", resource_metadata="https://mcp.example.com/.well-known/oauth-protected-resource"
//	Bearer as_uri=<https://auth.example.com>, resource='https://mcp.example.com'
//	Bearer error=invalid_token, scope=read
func ParseWWWAuthenticate(header string) (*AuthChallenge, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, fmt.Errorf("empty WWW-Authenticate header")
	}

	idx := indexFold(header, "bearer")
	if idx < 0 {
		scheme, _, _ := strings.Cut(header, " ")
		return &AuthChallenge{Scheme: scheme}, nil
	}

	challenge := &AuthChallenge{Scheme: "Bearer"}
	rest := header[idx+len("bearer"):]

	// Stop at a following challenge with a different scheme, e.g. `, Basic realm=...`.
	if next := nextSchemeIndex(rest); next >= 0 {
		rest = rest[:next]
	}

	params := parseAuthParams(rest)
	challenge.Realm = params["realm"]
	challenge.Resource = params["resource"]
	challenge.ASURI = params["as_uri"]
	challenge.ResourceMetadataURL = params["resource_metadata"]
	challenge.Scope = params["scope"]
	challenge.Error = params["error"]
	challenge.ErrorDescription = params["error_description"]

	return challenge, nil
}

// parseAuthParams extracts auth-params into a map with lowercased keys.
// The first occurrence of a key wins.
func parseAuthParams(paramStr string) map[string]string {
	params := make(map[string]string)
	for _, loc := range authParamRegex.FindAllStringSubmatchIndex(paramStr, -1) {
		key := strings.ToLower(paramStr[loc[2]:loc[3]])
		if _, seen := params[key]; seen {
			continue
		}
		// Groups 2..5 are the alternative value forms; exactly one participates.
		var value string
		for g := 2; g <= 5; g++ {
			start, end := loc[2*g], loc[2*g+1]
			if start < 0 {
				continue
			}
			value = paramStr[start:end]
			if g == 2 {
				value = unescapeQuoted(value)
			}
			break
		}
		params[key] = strings.TrimSpace(value)
	}
	return params
}

func unescapeQuoted(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	escaped := false
	for _, r := range s {
		if !escaped && r == '\\' {
			escaped = true
			continue
		}
		escaped = false
		b.WriteRune(r)
	}
	return b.String()
}

// indexFold finds scheme as a standalone word, case-insensitively.
func indexFold(s, scheme string) int {
	lower := strings.ToLower(s)
	from := 0
	for {
		i := strings.Index(lower[from:], scheme)
		if i < 0 {
			return -1
		}
		i += from
		end := i + len(scheme)
		startOK := i == 0 || lower[i-1] == ' ' || lower[i-1] == ','
		endOK := end == len(lower) || lower[end] == ' '
		if startOK && endOK {
			return i
		}
		from = end
	}
}

var nextSchemeRegex = regexp.MustCompile(`,\s*[A-Za-z][A-Za-z0-9\-]*\s+[A-Za-z_][A-Za-z0-9_\-]*\s*=`)

func nextSchemeIndex(s string) int {
	loc := nextSchemeRegex.FindStringIndex(s)
	if loc == nil {
		return -1
	}
	return loc[0]
}

// ParseWWWAuthenticateFromResponse extracts the auth challenge from a 401 response.
// Returns nil if no WWW-Authenticate header is present or if parsing fails.
func ParseWWWAuthenticateFromResponse(resp *http.Response) *AuthChallenge {
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		return nil
	}

	header := resp.Header.Get("WWW-Authenticate")
	if header == "" {
		return nil
	}

	challenge, err := ParseWWWAuthenticate(header)
	if err != nil {
		return nil
	}
	return challenge
}
