package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{Field: field, Value: val, Message: message})
}

func oneOf(errs *ValidationErrors, field, value string, allowed ...string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	errs.Add(field, fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")), value)
}

func absoluteURL(errs *ValidationErrors, field, value string) {
	if value == "" {
		errs.Add(field, "is required")
		return
	}
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs.Add(field, "must be an absolute URL", value)
	}
}

// Validate checks a fully merged configuration.
func Validate(c Config) ValidationErrors {
	var errs ValidationErrors

	oneOf(&errs, "environment", string(c.Environment), string(EnvironmentDevelopment), string(EnvironmentProduction))
	absoluteURL(&errs, "oauth.devRedirectUri", c.OAuth.DevRedirectURI)
	absoluteURL(&errs, "oauth.prodRedirectUri", c.OAuth.ProdRedirectURI)
	if strings.TrimSpace(c.OAuth.ClientName) == "" {
		errs.Add("oauth.clientName", "is required")
	}
	if len(c.OAuth.Scopes) == 0 {
		errs.Add("oauth.scopes", "must have at least one scope")
	}

	oneOf(&errs, "cache.backend", c.Cache.Backend, CacheBackendMemory, CacheBackendValkey, CacheBackendSQLite)
	if c.Cache.Backend == CacheBackendValkey && c.Cache.ValkeyAddress == "" {
		errs.Add("cache.valkeyAddress", "is required for the valkey backend")
	}
	if c.Cache.Backend == CacheBackendSQLite && c.Cache.SQLitePath == "" {
		errs.Add("cache.sqlitePath", "is required for the sqlite backend")
	}
	if c.Cache.ToolsTTL <= 0 {
		errs.Add("cache.toolsTtl", "must be positive", c.Cache.ToolsTTL)
	}
	if c.Cache.OAuthTTL <= 0 {
		errs.Add("cache.oauthTtl", "must be positive", c.Cache.OAuthTTL)
	}

	oneOf(&errs, "servers.store", c.Servers.Store, ServerStoreFile, ServerStoreSQLite)
	if c.Servers.Store == ServerStoreFile && c.Servers.File == "" {
		errs.Add("servers.file", "is required for the file store")
	}
	if c.Servers.Store == ServerStoreSQLite && c.Servers.SQLitePath == "" {
		errs.Add("servers.sqlitePath", "is required for the sqlite store")
	}

	if c.Connection.MaxRetries < 0 {
		errs.Add("connection.maxRetries", "must not be negative", c.Connection.MaxRetries)
	}
	oneOf(&errs, "telemetry.sink", c.Telemetry.Sink, TelemetrySinkLog, TelemetrySinkPrometheus, TelemetrySinkNone)

	return errs
}
