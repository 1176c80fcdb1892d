package catalog

import (
	"strings"
	"unicode"
)

// Keyword stems are matched against word prefixes of the tool name and
// description, so "delet" covers delete, deleted and deletion.
var (
	restrictedStems = []string{"delet", "remov", "destroy", "drop", "purg", "wipe", "kill", "terminat", "execut", "exec", "eval", "shell", "run", "rm", "truncat"}
	cautionStems    = []string{"writ", "modif", "updat", "creat", "edit", "set", "put", "post", "patch", "mov", "renam", "insert", "send", "upload", "append", "commit", "push"}

	categoryRules = []struct {
		category Category
		stems    []string
	}{
		{CategoryFileSystem, []string{"file", "director", "folder", "path", "fs", "disk"}},
		{CategoryWebAPI, []string{"http", "api", "url", "fetch", "request", "webhook", "endpoint", "web", "browser"}},
		{CategoryDataProcessing, []string{"data", "transform", "convert", "pars", "csv", "json", "format", "aggregat", "process", "sql", "databas", "tabl"}},
		{CategorySearch, []string{"search", "find", "lookup", "queri", "query", "grep", "index"}},
		{CategoryCodeExecution, []string{"execut", "exec", "run", "eval", "code", "script", "shell", "command", "python", "terminal"}},
	}
)

// words splits text into lowercase words at non-alphanumerics and camelCase boundaries.
func words(text string) []string {
	var out []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			out = append(out, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	runes := []rune(text)
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if unicode.IsUpper(r) && i > 0 && unicode.IsLower(runes[i-1]) {
				flush()
			}
			cur = append(cur, r)
		default:
			flush()
		}
	}
	flush()
	return out
}

func matchesAny(ws []string, stems []string) bool {
	for _, w := range ws {
		for _, s := range stems {
			if strings.HasPrefix(w, s) {
				return true
			}
		}
	}
	return false
}

// Categorize assigns a heuristic category from the tool name, then the description.
func Categorize(name, description string) Category {
	for _, text := range []string{name, description} {
		ws := words(text)
		for _, rule := range categoryRules {
			if matchesAny(ws, rule.stems) {
				return rule.category
			}
		}
	}
	return CategoryGeneral
}

// ClassifySafety assigns a SafetyLevel from name and description keywords.
// destructiveHint, when the server sets it, forces restricted.
func ClassifySafety(name, description string, destructiveHint *bool) SafetyLevel {
	if destructiveHint != nil && *destructiveHint {
		return SafetyRestricted
	}
	ws := append(words(name), words(description)...)
	switch {
	case matchesAny(ws, restrictedStems):
		return SafetyRestricted
	case matchesAny(ws, cautionStems):
		return SafetyCaution
	default:
		return SafetySafe
	}
}
