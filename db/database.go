package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var ErrClosed = errors.New("db: database is closed")

// Database owns the history connection.
//
// Usage:
//
//	database, err := Open("data/history.db")
//	if err != nil {
//	    return err
//	}
//	defer database.Close()
type Database struct {
	mu   sync.RWMutex
	conn *sql.DB
	path string
}

// Open creates the parent directory if needed, migrates the schema and
// returns a ready database.
func Open(path string) (*Database, error) {
	if path == "" {
		return nil, fmt.Errorf("db: database path is required")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("db: create %s: %w", dir, err)
		}
	}
	if err := MigrateUp(path); err != nil {
		return nil, err
	}
	conn, err := NewSQLiteConnection(DefaultConnectionConfig(path))
	if err != nil {
		return nil, err
	}
	return &Database{conn: conn, path: path}, nil
}

func (d *Database) Path() string { return d.path }

// DB exposes the connection, or nil after Close.
func (d *Database) DB() *sql.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.conn
}

// Close is safe to call more than once.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}

// Prune deletes generations recorded more than olderThan ago and reclaims
// the space. It returns the number of rows removed.
func (d *Database) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan < 0 {
		return 0, fmt.Errorf("db: retention must not be negative, got %s", olderThan)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return 0, ErrClosed
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(timeLayout)
	res, err := d.conn.ExecContext(ctx, "DELETE FROM generations WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("db: prune generations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db: prune generations: %w", err)
	}
	if n > 0 {
		if _, err := d.conn.ExecContext(ctx, "VACUUM"); err != nil {
			return n, fmt.Errorf("db: vacuum: %w", err)
		}
	}
	return n, nil
}
