package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"relq/internal/schema"
	"relq/internal/sqlutil"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) nonNegative(field string, value int) {
	if value < 0 {
		r.Errors = append(r.Errors, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("%s cannot be negative", field[strings.LastIndex(field, ".")+1:]),
		})
	}
}

// Validate checks the configuration for errors and returns validation results.
// It returns both errors (fatal) and warnings (non-fatal issues).
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}
	c.Database.validate(result)
	c.Server.validate(result)
	c.Loader.validate(result)
	c.Observability.validate(result)
	validateEntities(result, c.Entities)
	return result
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	dialect, err := d.Dialect()
	if err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.driver",
			Message: err.Error(),
			Hint:    "valid values are: mysql, postgres, sqlite",
		})
		return
	}

	if d.ConnectionString != "" && d.ConnectionStringFile != "" {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "database.dsn_file",
			Message: "dsn and dsn_file are both set",
			Hint:    "dsn takes precedence",
		})
	}

	switch dialect {
	case sqlutil.SQLite:
		if d.ConnectionString == "" && strings.TrimSpace(d.Database) == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "database.database",
				Message: "sqlite requires a database file path",
				Hint:    "set database.database to a file path or :memory:",
			})
		}
	case sqlutil.Postgres:
		validModes := map[string]bool{"": true, "disable": true, "require": true, "verify-ca": true, "verify-full": true}
		if !validModes[d.SSLMode] {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "database.sslmode",
				Message: fmt.Sprintf("invalid sslmode %q", d.SSLMode),
				Hint:    "valid values are: disable, require, verify-ca, verify-full",
			})
		}
		fallthrough
	default:
		if d.ConnectionString == "" && (d.Port < 0 || d.Port > 65535) {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "database.port",
				Message: fmt.Sprintf("port %d is out of valid range (1-65535)", d.Port),
			})
		}
		if d.ConnectionString == "" && strings.TrimSpace(d.Database) == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "database.database",
				Message: "database name is required",
				Hint:    "set database.database or a complete database.dsn",
			})
		}
	}

	result.nonNegative("database.pool.max_open", d.Pool.MaxOpen)
	result.nonNegative("database.pool.max_idle", d.Pool.MaxIdle)
	if d.Pool.MaxIdle > d.Pool.MaxOpen && d.Pool.MaxOpen > 0 {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "database.pool.max_idle",
			Message: "max_idle is greater than max_open",
			Hint:    "idle connections will be limited to max_open",
		})
	}

	if d.ConnectionTimeout < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.connection_timeout",
			Message: "connection_timeout cannot be negative",
		})
	}
	if d.ConnectionRetryInterval < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.connection_retry_interval",
			Message: "connection_retry_interval cannot be negative",
		})
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval == 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.connection_retry_interval",
			Message: "connection_retry_interval must be greater than 0 when connection_timeout is set",
			Hint:    "set a retry interval such as 2s, or set connection_timeout to 0 to disable retries",
		})
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval > d.ConnectionTimeout {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "database.connection_retry_interval",
			Message: "connection_retry_interval is greater than connection_timeout",
			Hint:    "only one connection attempt will be made",
		})
	}
}

func (s *ServerConfig) validate(result *ValidationResult) {
	if s.Port < 1 || s.Port > 65535 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port %d is out of valid range (1-65535)", s.Port),
		})
	}

	result.nonNegative("server.default_limit", s.DefaultLimit)
	result.nonNegative("server.max_limit", s.MaxLimit)
	result.nonNegative("server.max_include_depth", s.MaxIncludeDepth)
	if s.MaxLimit > 0 && s.DefaultLimit > s.MaxLimit {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "server.default_limit",
			Message: "default_limit is greater than max_limit",
			Hint:    "root finds will be capped at max_limit",
		})
	}

	for field, d := range map[string]int64{
		"server.read_timeout":         int64(s.ReadTimeout),
		"server.write_timeout":        int64(s.WriteTimeout),
		"server.idle_timeout":         int64(s.IdleTimeout),
		"server.shutdown_timeout":     int64(s.ShutdownTimeout),
		"server.health_check_timeout": int64(s.HealthCheckTimeout),
	} {
		if d < 0 {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field,
				Message: "timeout cannot be negative",
			})
		}
	}
}

func (l *LoaderConfig) validate(result *ValidationResult) {
	if l.MaxInClause < 1 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "loader.max_in_clause",
			Message: "max_in_clause must be at least 1",
		})
	}
	if l.MaxConcurrentReads < 1 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "loader.max_concurrent_reads",
			Message: "max_concurrent_reads must be at least 1",
		})
	}
}

func validateEntities(result *ValidationResult, entities []schema.EntityConfig) {
	if len(entities) == 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "entities",
			Message: "at least one entity must be configured",
			Hint:    "declare entities with their columns and relations in the config file",
		})
		return
	}
	if _, err := schema.Build(entities); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "entities",
			Message: err.Error(),
		})
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[o.Logging.Level] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.logging.level",
			Message: fmt.Sprintf("invalid log level %q", o.Logging.Level),
			Hint:    "valid values are: debug, info, warn, error",
		})
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[o.Logging.Format] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.logging.format",
			Message: fmt.Sprintf("invalid log format %q", o.Logging.Format),
			Hint:    "valid values are: json, text",
		})
	}

	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.trace_sample_ratio",
			Message: fmt.Sprintf("trace_sample_ratio %v is out of range", o.TraceSampleRatio),
			Hint:    "use a value between 0.0 and 1.0",
		})
	}

	o.OTLP.validate("observability.otlp", result)
	if o.Traces != nil {
		o.Traces.validate("observability.traces", result)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	validProtocols := map[string]bool{"": true, "grpc": true, "http/protobuf": true}
	if !validProtocols[o.Protocol] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".protocol",
			Message: fmt.Sprintf("invalid OTLP protocol %q", o.Protocol),
			Hint:    "valid values are: grpc, http/protobuf",
		})
	}

	if o.Protocol == "http/protobuf" && !validOTLPEndpoint(o.Endpoint) {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".endpoint",
			Message: fmt.Sprintf("invalid OTLP endpoint %q for http/protobuf", o.Endpoint),
			Hint:    "use host:port or a full URL",
		})
	}

	validCompressions := map[string]bool{"": true, "none": true, "gzip": true}
	if !validCompressions[o.Compression] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".compression",
			Message: fmt.Sprintf("invalid OTLP compression %q", o.Compression),
			Hint:    "valid values are: none, gzip",
		})
	}

	result.nonNegative(prefix+".retry_max_attempts", o.RetryMaxAttempts)
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}
