package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-notes/internal/config"
	_ "modernc.org/sqlite"
)

// SQLite is a Store backed by a single SQLite table. Keys enumerate in
// first-insertion order.
type SQLite struct {
	db    *sql.DB
	path  string
	quota Quota
	log   *slog.Logger
	clock func() time.Time
}

// OpenSQLite opens (and creates when missing) the database at cfg.Path.
func OpenSQLite(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*SQLite, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLite{
		db:    db,
		path:  cfg.Path,
		quota: Quota{MaxEntries: cfg.MaxEntries, MaxBytes: cfg.MaxBytes},
		log:   log.With(slog.String("component", "kv-sqlite")),
		clock: time.Now,
	}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			s.log.Warn("store vacuum failed", slog.String("error", err.Error()))
		}
	}
	return s, nil
}

func (s *SQLite) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS entries (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    key TEXT NOT NULL UNIQUE,
    value TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *SQLite) vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Path is the database file location.
func (s *SQLite) Path() string { return s.path }

func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) Set(ctx context.Context, key, value string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.quota.MaxEntries > 0 || s.quota.MaxBytes > 0 {
		var entries, bytes int
		row := tx.QueryRowContext(ctx,
			`SELECT COUNT(*), COALESCE(SUM(LENGTH(CAST(key AS BLOB)) + LENGTH(CAST(value AS BLOB))), 0) FROM entries`)
		if err = row.Scan(&entries, &bytes); err != nil {
			return fmt.Errorf("measure store: %w", err)
		}
		var old string
		switch scanErr := tx.QueryRowContext(ctx, `SELECT value FROM entries WHERE key = ?`, key).Scan(&old); {
		case errors.Is(scanErr, sql.ErrNoRows):
			entries++
			bytes += len(key) + len(value)
		case scanErr != nil:
			err = scanErr
			return err
		default:
			bytes += len(value) - len(old)
		}
		if err = s.quota.check(entries, bytes); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO entries(key, value, created_at) VALUES(?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value, s.clock().UTC())
	if err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	return tx.Commit()
}

func (s *SQLite) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM entries WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read entry: %w", err)
	}
	return value, nil
}

func (s *SQLite) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("remove entry: %w", err)
	}
	return nil
}

func (s *SQLite) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM entries ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
