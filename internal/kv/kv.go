// Package kv is the string-keyed persistence substrate notes are written to.
package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-notes/internal/config"
)

var (
	// ErrNotFound is returned by Get for a missing key.
	ErrNotFound = errors.New("kv: key not found")
	// ErrQuotaExceeded is returned by Set when the write would exceed the
	// configured entry or byte budget.
	ErrQuotaExceeded = errors.New("kv: quota exceeded")
)

// Store maps string keys to string values.
type Store interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, error)
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
	// Keys lists keys in the backend's enumeration order.
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// Pather is implemented by stores that live in a file on disk.
type Pather interface {
	Path() string
}

// Quota bounds the size of a store. Zero fields are unlimited.
type Quota struct {
	MaxEntries int
	MaxBytes   int
}

func (q Quota) check(entries, bytes int) error {
	if q.MaxEntries > 0 && entries > q.MaxEntries {
		return fmt.Errorf("%w: %d entries exceeds limit %d", ErrQuotaExceeded, entries, q.MaxEntries)
	}
	if q.MaxBytes > 0 && bytes > q.MaxBytes {
		return fmt.Errorf("%w: %d bytes exceeds limit %d", ErrQuotaExceeded, bytes, q.MaxBytes)
	}
	return nil
}

// Open returns the backend selected by cfg.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (Store, error) {
	quota := Quota{MaxEntries: cfg.MaxEntries, MaxBytes: cfg.MaxBytes}
	switch cfg.Backend {
	case "memory":
		return NewMemory(quota), nil
	case "sqlite":
		return OpenSQLite(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
