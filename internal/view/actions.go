package view

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/loqalabs/loqa-notes/internal/filesave"
	"github.com/loqalabs/loqa-notes/internal/notes"
	"github.com/loqalabs/loqa-notes/internal/status"
	"github.com/loqalabs/loqa-notes/internal/tts"
)

var ErrUnknownControl = errors.New("unknown control")

// Control is one of the buttons on a note row.
type Control int

const (
	Listen Control = iota + 1
	Delete
	Download
)

func (c Control) String() string {
	switch c {
	case Listen:
		return "listen"
	case Delete:
		return "delete"
	case Download:
		return "download"
	default:
		return fmt.Sprintf("Control(%d)", int(c))
	}
}

// ParseControl maps a control name such as "listen-note" or "delete" to a
// Control.
func ParseControl(name string) (Control, error) {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), "-note") {
	case "listen":
		return Listen, nil
	case "delete":
		return Delete, nil
	case "download":
		return Download, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownControl, name)
}

// NoteSource reads and deletes notes.
type NoteSource interface {
	Get(ctx context.Context, id string) (notes.Note, error)
	Delete(ctx context.Context, id string) error
}

// Actions performs the per-row controls.
type Actions struct {
	store    NoteSource
	list     *List
	speaker  tts.Speaker
	saver    filesave.Saver
	sink     status.Sink
	filename string
	log      *slog.Logger
}

type ActionsOption func(*Actions)

// WithFilename overrides the download file name.
func WithFilename(name string) ActionsOption {
	return func(a *Actions) {
		if name != "" {
			a.filename = name
		}
	}
}

func WithLogger(log *slog.Logger) ActionsOption { return func(a *Actions) { a.log = log } }

func NewActions(store NoteSource, list *List, speaker tts.Speaker, saver filesave.Saver, sink status.Sink, opts ...ActionsOption) *Actions {
	a := &Actions{
		store:    store,
		list:     list,
		speaker:  speaker,
		saver:    saver,
		sink:     sink,
		filename: filesave.DefaultFilename,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.With(slog.String("component", "view-actions"))
	return a
}

// Dispatch runs control against the note with id.
func (a *Actions) Dispatch(ctx context.Context, control Control, id string) error {
	switch control {
	case Listen:
		return a.listen(ctx, id)
	case Delete:
		return a.delete(ctx, id)
	case Download:
		return a.download(ctx, id)
	}
	return fmt.Errorf("%w: %s", ErrUnknownControl, control)
}

// body prefers the rendered row, as that is what the user activated, and
// falls back to the store.
func (a *Actions) body(ctx context.Context, id string) (string, error) {
	if row, ok := a.list.Row(id); ok {
		return row.Body, nil
	}
	n, err := a.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return n.Body, nil
}

func (a *Actions) listen(ctx context.Context, id string) error {
	body, err := a.body(ctx, id)
	if err != nil {
		return err
	}
	a.speaker.Speak(ctx, body)
	a.log.Debug("listen", slog.String("id", id))
	return nil
}

func (a *Actions) delete(ctx context.Context, id string) error {
	if err := a.store.Delete(ctx, id); err != nil {
		a.log.Error("failed to delete note", slog.String("id", id), slog.String("error", err.Error()))
		a.sink.Post(status.DeleteFailed)
		return err
	}
	a.list.RemoveRow(id)
	a.sink.Post(status.NoteDeleted)
	return nil
}

func (a *Actions) download(ctx context.Context, id string) error {
	body, err := a.body(ctx, id)
	if err != nil {
		a.sink.Post(status.DownloadFailed)
		return err
	}
	if err := a.saver.Save(ctx, a.filename, []byte(body)); err != nil {
		a.log.Error("failed to save download", slog.String("id", id), slog.String("error", err.Error()))
		a.sink.Post(status.DownloadFailed)
		return fmt.Errorf("download note: %w", err)
	}
	a.sink.Post(status.NoteDownloaded)
	return nil
}

// Filename is the name every download is saved under.
func (a *Actions) Filename() string { return a.filename }
