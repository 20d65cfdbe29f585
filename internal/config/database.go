package config

import (
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"relq/internal/sqlutil"
)

const (
	defaultMySQLPort    = 4000
	defaultPostgresPort = 5432
)

// Dialect returns the SQL dialect of the configured driver.
func (d *DatabaseConfig) Dialect() (sqlutil.Dialect, error) {
	return sqlutil.ParseDialect(d.Driver)
}

// EffectivePort returns the configured port or the driver's default.
func (d *DatabaseConfig) EffectivePort() int {
	if d.Port != 0 {
		return d.Port
	}
	if dialect, _ := d.Dialect(); dialect == sqlutil.Postgres {
		return defaultPostgresPort
	}
	return defaultMySQLPort
}

// DSN returns the data source name for the configured driver.
// If ConnectionString is set, it is used as the base. Otherwise the DSN is
// built from the discrete fields.
func (d *DatabaseConfig) DSN() string {
	dialect, err := d.Dialect()
	if err != nil {
		return d.ConnectionString
	}
	switch dialect {
	case sqlutil.Postgres:
		return d.postgresDSN()
	case sqlutil.SQLite:
		if d.ConnectionString != "" {
			return d.ConnectionString
		}
		return d.Database
	default:
		return d.mysqlDSN()
	}
}

// mysqlDSN always sets parseTime and a UTC location so DATETIME columns scan
// into time.Time.
func (d *DatabaseConfig) mysqlDSN() string {
	cfg := mysql.NewConfig()
	if d.ConnectionString != "" {
		parsed, err := mysql.ParseDSN(d.ConnectionString)
		if err != nil {
			return d.ConnectionString
		}
		cfg = parsed
	} else {
		cfg.User = d.User
		cfg.Passwd = d.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(d.Host, strconv.Itoa(d.EffectivePort()))
		cfg.DBName = d.Database
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN()
}

func (d *DatabaseConfig) postgresDSN() string {
	if d.ConnectionString != "" {
		return d.ConnectionString
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.EffectivePort())),
		Path:   "/" + d.Database,
	}
	if mode := strings.TrimSpace(d.SSLMode); mode != "" {
		u.RawQuery = url.Values{"sslmode": {mode}}.Encode()
	}
	return u.String()
}

// DatabaseName returns the database the DSN targets, for logs and telemetry.
func (d *DatabaseConfig) DatabaseName() string {
	if d.ConnectionString == "" {
		return d.Database
	}
	dialect, _ := d.Dialect()
	switch dialect {
	case sqlutil.MySQL:
		if cfg, err := mysql.ParseDSN(d.ConnectionString); err == nil {
			return cfg.DBName
		}
	case sqlutil.Postgres:
		if u, err := url.Parse(d.ConnectionString); err == nil && u.Scheme != "" {
			return strings.TrimPrefix(u.Path, "/")
		}
	}
	return d.Database
}
