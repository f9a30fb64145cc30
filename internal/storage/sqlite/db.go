// Package sqlite persists sessions and price snapshots in a single SQLite
// file via modernc.org/sqlite (no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"runtime"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/jinzhao-rjb/DeepSentine/internal/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store implements storage.Store on SQLite. Writes go through a dedicated
// single-connection pool: the history writer is effectively the only
// writer, and WAL lets readers proceed while it appends.
type Store struct {
	write *sql.DB
	read  *sql.DB
	ttl   time.Duration
	now   func() time.Time // injectable for expiry tests
}

// New opens the database, applies migrations and returns a Store.
// A non-positive ttl falls back to storage.DefaultSessionTTL.
func New(dsn string, ttl time.Duration) (*Store, error) {
	if ttl <= 0 {
		ttl = storage.DefaultSessionTTL
	}
	write, err := open(dsn, 1)
	if err != nil {
		return nil, fmt.Errorf("open write db: %w", err)
	}
	read, err := open(dsn, max(4, runtime.NumCPU()))
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("open read db: %w", err)
	}
	if err := migrate(write); err != nil {
		write.Close()
		read.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return &Store{write: write, read: read, ttl: ttl, now: time.Now}, nil
}

func open(dsn string, maxConns int) (*sql.DB, error) {
	const pragmas = "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	var full string
	if dsn == ":memory:" {
		// Shared cache keeps both pools on the same in-memory database.
		full = "file::memory:?mode=memory&cache=shared&" + pragmas
	} else {
		full = "file:" + dsn + "?" + pragmas
	}
	db, err := sql.Open("sqlite", full)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxConns)
	return db, nil
}

// migrate applies the embedded migrations with goose. fs.Sub strips the
// "migrations/" prefix so goose sees files at the FS root.
func migrate(db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("sub fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	_, err = provider.Up(context.Background())
	return err
}

// Ping checks connectivity on the read pool; readyz calls this.
func (s *Store) Ping(ctx context.Context) error {
	return s.read.PingContext(ctx)
}

// Close closes both pools.
func (s *Store) Close() error {
	return errors.Join(s.write.Close(), s.read.Close())
}
