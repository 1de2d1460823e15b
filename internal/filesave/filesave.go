// Package filesave delivers note payloads to the user as files.
package filesave

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// DefaultFilename is used for every download, whichever note it holds.
const DefaultFilename = "note.txt"

// ContentType of every payload.
const ContentType = "text/plain; charset=utf-8"

// Saver stores data under name.
type Saver interface {
	Save(ctx context.Context, name string, data []byte) error
}

// DirSaver writes files into a directory, replacing any file of the same
// name.
type DirSaver struct {
	dir string
	log *slog.Logger
}

func NewDirSaver(dir string, log *slog.Logger) *DirSaver {
	return &DirSaver{dir: dir, log: log.With(slog.String("component", "filesave"))}
}

func (d *DirSaver) Dir() string { return d.dir }

func (d *DirSaver) Save(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) || base == ".." {
		return fmt.Errorf("invalid file name %q", name)
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}
	path := filepath.Join(d.dir, base)
	tmp, err := os.CreateTemp(d.dir, "."+base+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", base, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", base, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace %s: %w", base, err)
	}
	d.log.Info("file saved", slog.String("path", path), slog.Int("bytes", len(data)))
	return nil
}

// Memory keeps saved files in memory.
type Memory struct {
	mu    sync.Mutex
	files map[string][]byte
	order []string
}

func (m *Memory) Save(_ context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files == nil {
		m.files = make(map[string][]byte)
	}
	m.files[name] = append([]byte(nil), data...)
	m.order = append(m.order, name)
	return nil
}

// File returns the last data saved under name.
func (m *Memory) File(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[name]
	return data, ok
}

// Saves counts Save calls.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// WriteAttachment streams data as a download named name.
func WriteAttachment(w http.ResponseWriter, name string, data []byte) error {
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": name})
	if disposition == "" {
		disposition = mime.FormatMediaType("attachment", map[string]string{"filename": DefaultFilename})
	}
	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("Content-Disposition", disposition)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, err := w.Write(data)
	return err
}
