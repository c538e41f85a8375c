package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/glebarez/go-sqlite"
	"github.com/lib/pq"

	"github.com/xxxsen/retroscrape/internal/config"
)

var ErrNotFound = errors.New("record not found")

// IQueryExecer is the subset of database/sql shared by pools, connections and transactions.
type IQueryExecer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// IDatabase is a query executor that can also open transactions.
type IDatabase interface {
	IQueryExecer
	OnTransaction(ctx context.Context, fn func(ctx context.Context, tx IQueryExecer) error) error
}

var defaultDB *Database

const (
	createPlatformTableSQL = `
CREATE TABLE IF NOT EXISTS platform_tab (
	id VARCHAR(64) PRIMARY KEY,
	name VARCHAR(128) NOT NULL,
	path VARCHAR(1024) NOT NULL,
	extension VARCHAR(32) NOT NULL,
	remote_id INTEGER NOT NULL,
	listing_url VARCHAR(1024) NOT NULL,
	aliases TEXT NOT NULL,
	create_time BIGINT NOT NULL,
	update_time BIGINT NOT NULL
);`

	createPlatformIndexSQL = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_platform_tab_name
ON platform_tab(name);`

	createCatalogEntryTableSQL = `
CREATE TABLE IF NOT EXISTS catalog_entry_tab (
	id VARCHAR(64) PRIMARY KEY,
	platform_id VARCHAR(64) NOT NULL,
	remote_id VARCHAR(32) NOT NULL,
	name VARCHAR(512) NOT NULL,
	file_name VARCHAR(512) NOT NULL,
	remote_data TEXT NOT NULL,
	link_data TEXT NOT NULL,
	scrape_status INTEGER NOT NULL,
	scrape_result TEXT NOT NULL,
	included INTEGER NOT NULL,
	create_time BIGINT NOT NULL,
	update_time BIGINT NOT NULL
);`

	createCatalogEntryPlatformIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_catalog_entry_tab_platform
ON catalog_entry_tab(platform_id);`

	createCatalogEntryStatusIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_catalog_entry_tab_status
ON catalog_entry_tab(scrape_status);`

	createSettingTableSQL = `
CREATE TABLE IF NOT EXISTS setting_tab (
	setting_key VARCHAR(128) PRIMARY KEY,
	setting_value TEXT NOT NULL,
	update_time BIGINT NOT NULL
);`
)

// Database wraps a connection pool together with the SQL dialect of its driver.
type Database struct {
	db      *sql.DB
	dialect dialect
}

// Open connects to the catalog described by cfg.
func Open(cfg config.DBConfig) (*Database, error) {
	driver := cfg.Driver
	dsn := cfg.DSN
	d := dialect(driver)
	switch d {
	case dialectSQLite:
		if dir := filepath.Dir(dsn); dir != "" && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("ensure database dir %s: %w", dir, err)
			}
		}
		dsn = sqliteDSN(dsn)
	case dialectPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	raw, err := sql.Open(string(d), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	return &Database{db: raw, dialect: d}, nil
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"
}

// SetDefault assigns the global database instance.
func SetDefault(db *Database) {
	defaultDB = db
}

// Default returns the configured global database instance.
func Default() IDatabase {
	if defaultDB == nil {
		return nil
	}
	return defaultDB
}

func (d *Database) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return d.db.ExecContext(ctx, d.dialect.rebind(query), args...)
}

func (d *Database) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, d.dialect.rebind(query), args...)
}

func (d *Database) OnTransaction(ctx context.Context, fn func(ctx context.Context, tx IQueryExecer) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	return runTx(ctx, tx, d.dialect, fn)
}

// Close releases the pool.
func (d *Database) Close() error {
	return d.db.Close()
}

// Session pins a dedicated connection for one unit of work.
func (d *Database) Session(ctx context.Context) (*Session, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire database session: %w", err)
	}
	s := &Session{conn: conn, dialect: d.dialect}
	getter := func() IDatabase { return s }
	s.Platforms = newPlatformDao(getter)
	s.Entries = newCatalogEntryDao(getter)
	s.Settings = newSettingDao(getter)
	return s, nil
}

// EnsureSchema initialises required tables and indexes.
func EnsureSchema(ctx context.Context, db IQueryExecer) error {
	for _, stmt := range []string{
		createPlatformTableSQL,
		createPlatformIndexSQL,
		createCatalogEntryTableSQL,
		createCatalogEntryPlatformIndexSQL,
		createCatalogEntryStatusIndexSQL,
		createSettingTableSQL,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

type txExecer struct {
	tx      *sql.Tx
	dialect dialect
}

func (t *txExecer) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.dialect.rebind(query), args...)
}

func (t *txExecer) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.dialect.rebind(query), args...)
}

func runTx(ctx context.Context, tx *sql.Tx, d dialect, fn func(ctx context.Context, tx IQueryExecer) error) error {
	if err := fn(ctx, &txExecer{tx: tx, dialect: d}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
