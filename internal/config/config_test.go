package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relq/internal/schema"
	"relq/internal/sqlutil"
)

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "mysql discrete fields",
			config: DatabaseConfig{
				Driver:   "mysql",
				Host:     "localhost",
				Port:     4000,
				User:     "root",
				Password: "password",
				Database: "test",
			},
			expected: "root:password@tcp(localhost:4000)/test?parseTime=true",
		},
		{
			name: "mysql default port",
			config: DatabaseConfig{
				Host:     "db.example.com",
				User:     "admin",
				Database: "shop",
			},
			expected: "admin@tcp(db.example.com:4000)/shop?parseTime=true",
		},
		{
			name: "mysql connection string gains parseTime",
			config: DatabaseConfig{
				Driver:           "tidb",
				ConnectionString: "app:secret@tcp(tidb:4000)/shop",
			},
			expected: "app:secret@tcp(tidb:4000)/shop?parseTime=true",
		},
		{
			name: "postgres discrete fields",
			config: DatabaseConfig{
				Driver:   "postgres",
				Host:     "pg",
				User:     "relq",
				Password: "p@ss",
				Database: "shop",
				SSLMode:  "disable",
			},
			expected: "postgres://relq:p%40ss@pg:5432/shop?sslmode=disable",
		},
		{
			name: "postgres connection string passes through",
			config: DatabaseConfig{
				Driver:           "postgres",
				ConnectionString: "host=pg dbname=shop",
			},
			expected: "host=pg dbname=shop",
		},
		{
			name:     "sqlite file",
			config:   DatabaseConfig{Driver: "sqlite", Database: "/var/lib/relq/shop.db"},
			expected: "/var/lib/relq/shop.db",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}

func TestDatabaseConfig_DatabaseName(t *testing.T) {
	assert.Equal(t, "shop", (&DatabaseConfig{ConnectionString: "u:p@tcp(h:4000)/shop"}).DatabaseName())
	assert.Equal(t, "shop", (&DatabaseConfig{Driver: "postgres", ConnectionString: "postgres://u@h/shop"}).DatabaseName())
	assert.Equal(t, "relq", (&DatabaseConfig{Database: "relq"}).DatabaseName())
}

func TestDatabaseConfig_Dialect(t *testing.T) {
	d, err := (&DatabaseConfig{Driver: "sqlite3"}).Dialect()
	require.NoError(t, err)
	assert.Equal(t, sqlutil.SQLite, d)

	_, err = (&DatabaseConfig{Driver: "oracle"}).Dialect()
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	validConfig := func() *Config {
		return &Config{
			Database: DatabaseConfig{
				Driver:   "mysql",
				Host:     "localhost",
				Port:     4000,
				User:     "root",
				Database: "test",
				Pool:     PoolConfig{MaxOpen: 25, MaxIdle: 5},
			},
			Server: ServerConfig{Port: 8080, DefaultLimit: 100, MaxLimit: 1000, MaxIncludeDepth: 5},
			Loader: LoaderConfig{MaxInClause: 1000, MaxConcurrentReads: 4},
			Observability: ObservabilityConfig{
				TraceSampleRatio: 1,
				Logging:          LoggingConfig{Level: "info", Format: "json"},
				OTLP:             OTLPConfig{Protocol: "grpc", Compression: "gzip"},
			},
			Entities: []schema.EntityConfig{
				{Name: "customers", Columns: []string{"id", "name"}},
			},
		}
	}

	tests := []struct {
		name        string
		modify      func(*Config)
		wantErrors  []string
		wantWarning string
	}{
		{
			name:   "valid config",
			modify: func(*Config) {},
		},
		{
			name:       "unknown driver",
			modify:     func(c *Config) { c.Database.Driver = "oracle" },
			wantErrors: []string{"database.driver"},
		},
		{
			name:       "database port out of range",
			modify:     func(c *Config) { c.Database.Port = 70000 },
			wantErrors: []string{"database.port"},
		},
		{
			name:       "sqlite without path",
			modify:     func(c *Config) { c.Database = DatabaseConfig{Driver: "sqlite"} },
			wantErrors: []string{"database.database"},
		},
		{
			name:       "bad postgres sslmode",
			modify:     func(c *Config) { c.Database.Driver = "postgres"; c.Database.SSLMode = "sometimes" },
			wantErrors: []string{"database.sslmode"},
		},
		{
			name:        "idle above open",
			modify:      func(c *Config) { c.Database.Pool.MaxIdle = 50 },
			wantWarning: "database.pool.max_idle",
		},
		{
			name: "retry interval required with timeout",
			modify: func(c *Config) {
				c.Database.ConnectionTimeout = time.Minute
				c.Database.ConnectionRetryInterval = 0
			},
			wantErrors: []string{"database.connection_retry_interval"},
		},
		{
			name:       "server port",
			modify:     func(c *Config) { c.Server.Port = 0 },
			wantErrors: []string{"server.port"},
		},
		{
			name:       "negative include depth",
			modify:     func(c *Config) { c.Server.MaxIncludeDepth = -1 },
			wantErrors: []string{"server.max_include_depth"},
		},
		{
			name:        "default limit above max",
			modify:      func(c *Config) { c.Server.DefaultLimit = 5000 },
			wantWarning: "server.default_limit",
		},
		{
			name:       "loader bounds",
			modify:     func(c *Config) { c.Loader = LoaderConfig{} },
			wantErrors: []string{"loader.max_in_clause", "loader.max_concurrent_reads"},
		},
		{
			name:       "no entities",
			modify:     func(c *Config) { c.Entities = nil },
			wantErrors: []string{"entities"},
		},
		{
			name: "relation to unknown entity",
			modify: func(c *Config) {
				c.Entities[0].Relations = []schema.RelationConfig{{Name: "invoices", Kind: "to_many", Target: "invoices"}}
			},
			wantErrors: []string{"entities"},
		},
		{
			name:       "log level",
			modify:     func(c *Config) { c.Observability.Logging.Level = "loud" },
			wantErrors: []string{"observability.logging.level"},
		},
		{
			name:       "sample ratio",
			modify:     func(c *Config) { c.Observability.TraceSampleRatio = 2 },
			wantErrors: []string{"observability.trace_sample_ratio"},
		},
		{
			name: "http protocol needs endpoint",
			modify: func(c *Config) {
				c.Observability.Traces = &OTLPConfig{Protocol: "http/protobuf", Endpoint: "not a host"}
			},
			wantErrors: []string{"observability.traces.endpoint"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			result := cfg.Validate()

			var fields []string
			for _, e := range result.Errors {
				fields = append(fields, e.Field)
			}
			if len(tt.wantErrors) == 0 {
				assert.False(t, result.HasErrors(), "unexpected errors: %s", result.Error())
			} else {
				assert.ElementsMatch(t, tt.wantErrors, fields, result.Error())
			}

			if tt.wantWarning != "" {
				require.NotEmpty(t, result.Warnings)
				assert.Equal(t, tt.wantWarning, result.Warnings[0].Field)
			}
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	assert.Equal(t, "server.port: bad", ValidationError{Field: "server.port", Message: "bad"}.Error())
	assert.Equal(t, "server.port: bad (hint: fix it)", ValidationError{Field: "server.port", Message: "bad", Hint: "fix it"}.Error())

	r := &ValidationResult{}
	assert.Empty(t, r.Error())
	r.Errors = append(r.Errors, ValidationError{Field: "a", Message: "x"}, ValidationError{Field: "b", Message: "y"})
	assert.Equal(t, "a: x; b: y", r.Error())
}

func TestMergeOTLPConfigs(t *testing.T) {
	base := OTLPConfig{
		Endpoint:         "collector:4317",
		Protocol:         "grpc",
		Headers:          map[string]string{"a": "1"},
		Timeout:          10 * time.Second,
		RetryEnabled:     true,
		RetryMaxAttempts: 3,
	}
	obs := ObservabilityConfig{
		OTLP:   base,
		Traces: &OTLPConfig{Endpoint: "traces:4318", Protocol: "http/protobuf", Insecure: true, Headers: map[string]string{"b": "2"}},
	}

	traces := obs.GetTracesConfig()
	assert.Equal(t, "traces:4318", traces.Endpoint)
	assert.Equal(t, "http/protobuf", traces.Protocol)
	assert.True(t, traces.Insecure)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, traces.Headers)
	assert.Equal(t, 10*time.Second, traces.Timeout)
	assert.Equal(t, 3, traces.RetryMaxAttempts)

	assert.Equal(t, base, obs.GetLogsConfig())
}
