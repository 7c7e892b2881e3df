package config

import (
	"fmt"
	"strings"
)

// MinJWTSecretLength is the shortest HS256 secret accepted.
const MinJWTSecretLength = 32

// Validate performs business-rule validation on the loaded configuration.
// Load calls it automatically.
func (c *Config) Validate() error {
	if len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d characters (got %d)", MinJWTSecretLength, len(c.Auth.JWTSecret))
	}
	if err := c.Database.validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Ledger.validate(); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	if c.Audit.Enabled {
		if c.Audit.Interval <= 0 {
			return fmt.Errorf("audit.interval must be > 0 (got %s)", c.Audit.Interval)
		}
		if c.Audit.Concurrency <= 0 {
			return fmt.Errorf("audit.concurrency must be > 0 (got %d)", c.Audit.Concurrency)
		}
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range (got %d)", c.Server.Port)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text (got %q)", c.Log.Format)
	}
	return nil
}

func (d *DatabaseConfig) validate() error {
	d.Driver = strings.ToLower(strings.TrimSpace(d.Driver))
	switch d.Driver {
	case DriverSQLite:
		if d.Path == "" {
			return fmt.Errorf("path is required for the sqlite driver")
		}
	case DriverPostgres:
		if d.DSN == "" {
			return fmt.Errorf("dsn is required for the postgres driver")
		}
		if d.MinConns > d.MaxConns {
			return fmt.Errorf("min_conns (%d) exceeds max_conns (%d)", d.MinConns, d.MaxConns)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown driver %q (want sqlite, postgres or memory)", d.Driver)
	}
	return nil
}

func (l *LedgerConfig) validate() error {
	if l.PointsPerPraise <= 0 {
		return fmt.Errorf("points_per_praise must be > 0 (got %d)", l.PointsPerPraise)
	}
	if l.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0 (got %d)", l.MaxRetries)
	}
	if l.HistoryPageSize <= 0 || l.HistoryPageSize > 100 {
		return fmt.Errorf("history_page_size must be in [1, 100] (got %d)", l.HistoryPageSize)
	}
	return nil
}
