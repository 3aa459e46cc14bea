package database

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// ErrNoDatabase indicates an operation was attempted before a Database was
// configured or after it was closed.
var ErrNoDatabase = errors.New("no database configured")

// Database wraps a GORM connection and exposes the handful of operations
// every store and service in this module needs: a context-scoped session for
// query building, direct GORM access for schema/admin operations, driver
// introspection, pool tuning, and lifecycle close.
type Database interface {
	// Session returns a GORM session bound to ctx, suitable for chaining
	// Where/Order/Find calls. Every store call goes through Session so that
	// deadlines and cancellation propagate into the underlying SQL driver.
	Session(ctx context.Context) *gorm.DB
	// GORM returns the raw *gorm.DB, for migrations and other admin
	// operations that are not scoped to a request context.
	GORM() *gorm.DB
	// IsSQLite reports whether the underlying driver is SQLite.
	IsSQLite() bool
	// IsPostgres reports whether the underlying driver is PostgreSQL.
	IsPostgres() bool
	// ConfigurePool tunes the underlying connection pool.
	ConfigurePool(maxOpen, maxIdle int, maxLifetime time.Duration) error
	// Close releases the underlying connection pool.
	Close() error
}

type gormDatabase struct {
	db       *gorm.DB
	isSQLite bool
}

// NewDatabase opens a Database for the given URL using default GORM
// settings (an slog-backed logger; see slogGormLogger).
func NewDatabase(ctx context.Context, dbURL string) (Database, error) {
	return NewDatabaseWithConfig(ctx, dbURL, &gorm.Config{Logger: slogGormLogger{}})
}

// NewDatabaseWithConfig opens a Database for the given URL with an explicit
// *gorm.Config, letting callers (e.g. the HTTP response cache) silence
// logging or otherwise customize the session.
func NewDatabaseWithConfig(ctx context.Context, dbURL string, cfg *gorm.Config) (Database, error) {
	dialector, isSQLite, err := parseDialector(dbURL)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &gormDatabase{db: db, isSQLite: isSQLite}, nil
}

// parseDialector inspects the scheme of dbURL and returns the matching GORM
// dialector. Supported schemes: sqlite, postgres, postgresql.
func parseDialector(dbURL string) (gorm.Dialector, bool, error) {
	if dbURL == "" {
		return nil, false, errors.New("parse database url: empty database url")
	}

	scheme, rest, ok := strings.Cut(dbURL, "://")
	if !ok {
		return nil, false, errors.New("parse database url: unsupported database driver")
	}

	switch strings.ToLower(scheme) {
	case "sqlite":
		return sqlite.Open(sqliteDSN(rest)), true, nil
	case "postgres", "postgresql":
		return postgres.Open(dbURL), false, nil
	default:
		return nil, false, errors.New("parse database url: unsupported database driver")
	}
}

// sqliteDSN turns a "sqlite:///path/to/file.db" path component into a DSN
// with WAL journaling and a busy timeout, so that concurrent readers (e.g.
// the HTTP response cache's multi-connection pool) don't immediately fail
// with "database is locked".
func sqliteDSN(path string) string {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		path = "file::memory:?cache=shared"
	}
	if strings.Contains(path, "?") {
		return path
	}
	values := url.Values{}
	values.Set("_journal_mode", "WAL")
	values.Set("_busy_timeout", "5000")
	values.Set("_foreign_keys", "on")
	return path + "?" + values.Encode()
}

func (d *gormDatabase) Session(ctx context.Context) *gorm.DB {
	return d.db.WithContext(ctx)
}

func (d *gormDatabase) GORM() *gorm.DB {
	return d.db
}

func (d *gormDatabase) IsSQLite() bool {
	return d.isSQLite
}

func (d *gormDatabase) IsPostgres() bool {
	return !d.isSQLite
}

func (d *gormDatabase) ConfigurePool(maxOpen, maxIdle int, maxLifetime time.Duration) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("unwrap sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(maxLifetime)
	return nil
}

func (d *gormDatabase) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("unwrap sql.DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
