package db

import (
	"context"
	"database/sql"
	"fmt"
)

// DatabaseGetter returns a database handle. Used to defer retrieval until first use.
type DatabaseGetter func() IDatabase

// Session is a dedicated connection handed to one unit of work. It must be closed.
type Session struct {
	conn    *sql.Conn
	dialect dialect

	Platforms *platformDao
	Entries   *catalogEntryDao
	Settings  *settingDao
}

func (s *Session) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.conn.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *Session) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.conn.QueryContext(ctx, s.dialect.rebind(query), args...)
}

func (s *Session) OnTransaction(ctx context.Context, fn func(ctx context.Context, tx IQueryExecer) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	return runTx(ctx, tx, s.dialect, fn)
}

// Close returns the connection to the pool.
func (s *Session) Close() error {
	return s.conn.Close()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
