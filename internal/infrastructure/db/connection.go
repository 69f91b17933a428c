// Package db opens the launch ledger selected by configuration and reports
// its health.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/postlaunch/internal/persistence"
	"github.com/sawpanic/postlaunch/internal/persistence/memory"
	"github.com/sawpanic/postlaunch/internal/persistence/sqlstore"
)

// Manager owns the ledger and, for SQL drivers, its connection pool
type Manager struct {
	ledger persistence.Ledger
	db     *sqlx.DB
	config Config
}

// NewManager opens the configured ledger, pings it and creates its schema
func NewManager(ctx context.Context, config Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ledger config: %w", err)
	}

	if config.Driver == DriverMemory {
		log.Warn().Msg("Using in-memory ledger; launches are lost on restart")
		return &Manager{ledger: memory.NewLedger(), config: config}, nil
	}

	db, err := sqlx.Open(config.Driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if config.Driver == DriverSQLite {
		// one writer; admissions are serialized in process
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(config.MaxOpenConns)
		db.SetMaxIdleConns(config.MaxIdleConns)
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	}

	m, err := newManager(ctx, db, config)
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Info().Str("driver", config.Driver).Msg("Ledger database ready")
	return m, nil
}

func newManager(ctx context.Context, db *sqlx.DB, config Config) (*Manager, error) {
	store := sqlstore.New(db, sqlstore.Dialect(config.Driver), config.QueryTimeout)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}
	return &Manager{ledger: store, db: db, config: config}, nil
}

// Ledger returns the opened ledger
func (m *Manager) Ledger() persistence.Ledger {
	return m.ledger
}

// Close closes the ledger and its connection pool
func (m *Manager) Close() error {
	return m.ledger.Close()
}

// HealthCheck is the ledger section of the service health report
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Driver         string         `json:"driver"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool,omitempty"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// Health pings the ledger and reports pool statistics for SQL drivers
func (m *Manager) Health(ctx context.Context) HealthCheck {
	start := time.Now()
	hc := HealthCheck{Healthy: true, Driver: m.config.Driver}

	pingCtx, cancel := context.WithTimeout(ctx, m.config.QueryTimeout)
	defer cancel()
	if err := m.ledger.Ping(pingCtx); err != nil {
		hc.Healthy = false
		hc.Errors = append(hc.Errors, fmt.Sprintf("ping failed: %v", err))
	}

	if m.db != nil {
		stats := m.db.Stats()
		hc.ConnectionPool = map[string]int{
			"max_open":      stats.MaxOpenConnections,
			"open":          stats.OpenConnections,
			"in_use":        stats.InUse,
			"idle":          stats.Idle,
			"wait_count":    int(stats.WaitCount),
			"wait_duration": int(stats.WaitDuration.Milliseconds()),
		}
	}

	hc.LastCheck = time.Now()
	hc.ResponseTimeMS = time.Since(start).Milliseconds()
	return hc
}
