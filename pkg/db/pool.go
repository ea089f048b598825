package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fluxorio/callcenter/pkg/core"

	// Registered drivers: "pgx", "postgres" and "sqlite3"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported driver names
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverPGX      = "pgx"
)

// PoolConfig configures the database connection pool
type PoolConfig struct {
	// DSN is the database connection string
	DSN string

	// DriverName is one of DriverSQLite, DriverPostgres or DriverPGX
	DriverName string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// PingTimeout bounds the connectivity check in NewPool
	PingTimeout time.Duration
}

// DefaultPoolConfig returns the default pool sizing
func DefaultPoolConfig(dsn string, driverName string) PoolConfig {
	return PoolConfig{
		DSN:             dsn,
		DriverName:      driverName,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 10 * time.Minute,
		PingTimeout:     5 * time.Second,
	}
}

// Validate checks the configuration before any connection is opened
func (c PoolConfig) Validate() error {
	switch {
	case c.DSN == "":
		return invalidConfig("DSN cannot be empty")
	case c.DriverName == "":
		return invalidConfig("DriverName cannot be empty")
	case c.DriverName != DriverSQLite && c.DriverName != DriverPostgres && c.DriverName != DriverPGX:
		return invalidConfig(fmt.Sprintf("unsupported driver %q", c.DriverName))
	case c.MaxOpenConns <= 0:
		return invalidConfig("MaxOpenConns must be positive")
	case c.MaxIdleConns < 0:
		return invalidConfig("MaxIdleConns cannot be negative")
	case c.MaxIdleConns > c.MaxOpenConns:
		return invalidConfig("MaxIdleConns cannot exceed MaxOpenConns")
	case c.ConnMaxLifetime < 0 || c.ConnMaxIdleTime < 0:
		return invalidConfig("connection lifetimes cannot be negative")
	}
	return nil
}

func invalidConfig(msg string) error {
	return &core.Error{Code: core.CodeInvalidConfig, Message: msg}
}

// Pool represents a database connection pool
type Pool struct {
	db     *sql.DB
	config PoolConfig
}

// NewPool validates the configuration, opens the pool and pings it
func NewPool(config PoolConfig) (*Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open(config.DriverName, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", config.DriverName, err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	timeout := config.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", config.DriverName, err)
	}

	return &Pool{db: db, config: config}, nil
}

// DB returns the underlying *sql.DB
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Driver returns the configured driver name
func (p *Pool) Driver() string {
	return p.config.DriverName
}

// Close closes the connection pool
func (p *Pool) Close() error {
	if p == nil || p.db == nil {
		return &core.Error{Code: core.CodeInvalidState, Message: "pool not initialized"}
	}
	return p.db.Close()
}

// Ping tests the connection
func (p *Pool) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Stats returns pool statistics
func (p *Pool) Stats() sql.DBStats {
	if p == nil || p.db == nil {
		return sql.DBStats{}
	}
	return p.db.Stats()
}

// Exec executes a command. Placeholders are written as $1, $2... and
// rebound for the driver.
func (p *Pool) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if query == "" {
		return nil, &core.Error{Code: core.CodeInvalidInput, Message: "query cannot be empty"}
	}
	return p.db.ExecContext(ctx, p.Rebind(query), args...)
}

// Query executes a query that returns rows
func (p *Pool) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	if query == "" {
		return nil, &core.Error{Code: core.CodeInvalidInput, Message: "query cannot be empty"}
	}
	return p.db.QueryContext(ctx, p.Rebind(query), args...)
}

// QueryRow executes a query that returns a single row
func (p *Pool) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return p.db.QueryRowContext(ctx, p.Rebind(query), args...)
}

// Migrate runs each statement inside one transaction
func (p *Pool) Migrate(ctx context.Context, statements ...string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, p.Rebind(stmt)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return tx.Commit()
}

// Rebind converts $N placeholders to ? for sqlite
func (p *Pool) Rebind(query string) string {
	if p.config.DriverName != DriverSQLite || !strings.Contains(query, "$") {
		return query
	}

	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		if query[i] != '$' {
			b.WriteByte(query[i])
			continue
		}
		j := i + 1
		for j < len(query) && query[j] >= '0' && query[j] <= '9' {
			j++
		}
		if _, err := strconv.Atoi(query[i+1 : j]); err != nil {
			b.WriteByte(query[i])
			continue
		}
		b.WriteByte('?')
		i = j - 1
	}
	return b.String()
}
