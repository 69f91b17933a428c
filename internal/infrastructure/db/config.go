package db

import (
	"errors"
	"fmt"
	"time"
)

// Ledger drivers
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds ledger storage configuration
type Config struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// DefaultConfig keeps the ledger in a local SQLite file
func DefaultConfig() Config {
	return Config{
		Driver:          DriverSQLite,
		DSN:             "postlaunch.db",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		QueryTimeout:    5 * time.Second,
	}
}

// Validate reports every problem with the configuration
func (c Config) Validate() error {
	var errs []error
	switch c.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.DSN == "" {
			errs = append(errs, fmt.Errorf("dsn is required for the %s driver", c.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown driver %q (want memory, sqlite or postgres)", c.Driver))
	}

	if c.MaxOpenConns <= 0 {
		errs = append(errs, errors.New("max_open_conns must be positive"))
	}
	if c.MaxIdleConns < 0 {
		errs = append(errs, errors.New("max_idle_conns cannot be negative"))
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		errs = append(errs, errors.New("max_idle_conns cannot exceed max_open_conns"))
	}
	if c.QueryTimeout <= 0 {
		errs = append(errs, errors.New("query_timeout must be positive"))
	}
	return errors.Join(errs...)
}
