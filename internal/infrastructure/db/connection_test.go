package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/postlaunch/internal/persistence"
	"github.com/sawpanic/postlaunch/internal/persistence/memory"
)

func TestDefaultConfigIsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestConfigValidateCollectsProblems(t *testing.T) {
	cfg := Config{Driver: "oracle", MaxOpenConns: 0, MaxIdleConns: -1}
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"unknown driver", "max_open_conns", "max_idle_conns cannot be negative", "query_timeout"} {
		assert.Contains(t, err.Error(), want)
	}

	cfg = DefaultConfig()
	cfg.Driver = DriverPostgres
	cfg.DSN = ""
	assert.ErrorContains(t, cfg.Validate(), "dsn is required")
}

func TestNewManager_Memory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Driver = DriverMemory

	m, err := NewManager(context.Background(), cfg)
	require.NoError(t, err)
	defer m.Close()

	assert.IsType(t, &memory.Ledger{}, m.Ledger())
	hc := m.Health(context.Background())
	assert.True(t, hc.Healthy)
	assert.Nil(t, hc.ConnectionPool)
}

func TestNewManager_SQLite(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "ledger.db")

	m, err := NewManager(ctx, cfg)
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Ledger().Admit(ctx, persistence.Claim{PostID: "p1", AgentID: "a1", Symbol: "FOO"},
		func(persistence.Snapshot) error { return nil })
	require.NoError(t, err)

	hc := m.Health(ctx)
	assert.True(t, hc.Healthy)
	assert.Equal(t, DriverSQLite, hc.Driver)
	assert.Equal(t, 1, hc.ConnectionPool["max_open"])
}

func TestNewManager_InvalidConfig(t *testing.T) {
	_, err := NewManager(context.Background(), Config{Driver: "mongo"})
	assert.ErrorContains(t, err, "invalid ledger config")
}

func mockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	return sqlx.NewDb(raw, "postgres"), mock
}

func TestNewManager_PostgresMigrates(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectPing()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS launch_reservations").WillReturnResult(sqlmock.NewResult(0, 0))

	cfg := DefaultConfig()
	cfg.Driver = DriverPostgres
	cfg.DSN = "postgres://ignored"
	m, err := newManager(context.Background(), db, cfg)
	require.NoError(t, err)
	assert.NotNil(t, m.Ledger())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewManager_PingFailure(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	cfg := DefaultConfig()
	cfg.Driver = DriverPostgres
	_, err := newManager(context.Background(), db, cfg)
	assert.ErrorContains(t, err, "failed to ping database")
}

func TestHealth_ReportsPingFailure(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectPing()
	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))

	cfg := DefaultConfig()
	cfg.Driver = DriverPostgres
	cfg.QueryTimeout = time.Second
	m, err := newManager(context.Background(), db, cfg)
	require.NoError(t, err)

	mock.ExpectPing().WillReturnError(errors.New("server closed the connection"))
	hc := m.Health(context.Background())
	assert.False(t, hc.Healthy)
	require.Len(t, hc.Errors, 1)
	assert.Contains(t, hc.Errors[0], "server closed")
	assert.Contains(t, hc.ConnectionPool, "open")
}
