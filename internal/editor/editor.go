// Package editor holds the dictation draft and the text the user sees, and
// turns either into a saved note.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-notes/internal/kv"
	"github.com/loqalabs/loqa-notes/internal/notes"
	"github.com/loqalabs/loqa-notes/internal/status"
)

// ErrEmptyNote is returned when the text to save is blank. Nothing is
// written; it is informational rather than a failure.
var ErrEmptyNote = errors.New("note is empty")

// KeyEnter is the name of the confirm key that triggers a line submit.
const KeyEnter = "enter"

// Key is a key press in the editing surface.
type Key struct {
	Name  string
	Shift bool
}

// Creator persists note bodies.
type Creator interface {
	Create(ctx context.Context, body string) (notes.Note, error)
}

// Refresher redraws the notes list after a save.
type Refresher interface {
	Refresh(ctx context.Context)
}

type Editor struct {
	store     Creator
	sink      status.Sink
	refresher Refresher
	log       *slog.Logger

	mu      sync.Mutex
	draft   string
	visible string
}

type Option func(*Editor)

func WithRefresher(r Refresher) Option { return func(e *Editor) { e.refresher = r } }

func WithLogger(log *slog.Logger) Option { return func(e *Editor) { e.log = log } }

func New(store Creator, sink status.Sink, opts ...Option) *Editor {
	e := &Editor{
		store: store,
		sink:  sink,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With(slog.String("component", "editor"))
	return e
}

// SetRefresher replaces the refresher; the view is usually built after the
// editor.
func (e *Editor) SetRefresher(r Refresher) {
	e.mu.Lock()
	e.refresher = r
	e.mu.Unlock()
}

// AppendTranscript concatenates fragment onto the draft verbatim and mirrors
// the draft into the visible text.
func (e *Editor) AppendTranscript(fragment string) {
	e.mu.Lock()
	e.draft += fragment
	e.visible = e.draft
	e.mu.Unlock()
}

// ClearDraft empties both the draft and the visible text.
func (e *Editor) ClearDraft() {
	e.mu.Lock()
	e.draft = ""
	e.visible = ""
	e.mu.Unlock()
}

func (e *Editor) Draft() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.draft
}

func (e *Editor) Visible() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.visible
}

// SetVisible records manual edits to the visible text. The draft is left
// alone.
func (e *Editor) SetVisible(text string) {
	e.mu.Lock()
	e.visible = text
	e.mu.Unlock()
}

// SaveDraft persists the dictated draft and clears it. On a write failure
// the draft is kept.
func (e *Editor) SaveDraft(ctx context.Context) (notes.Note, error) {
	body := e.Draft()
	return e.save(ctx, body, func() {
		e.mu.Lock()
		// Dictation that arrived while the write was in flight stays.
		e.draft = strings.TrimPrefix(e.draft, body)
		e.visible = e.draft
		e.mu.Unlock()
	})
}

// SaveText persists text supplied by the caller, typically manual edits.
// The draft is untouched.
func (e *Editor) SaveText(ctx context.Context, text string) (notes.Note, error) {
	return e.save(ctx, text, nil)
}

// SubmitLine handles a key press in the editing surface. A bare enter saves
// the visible text and clears it; any other key is not handled and the
// surface should treat it as input. After a failed write the text is kept.
func (e *Editor) SubmitLine(ctx context.Context, key Key) (handled bool, err error) {
	if key.Name != KeyEnter || key.Shift {
		return false, nil
	}
	_, err = e.save(ctx, e.Visible(), e.ClearDraft)
	if errors.Is(err, ErrEmptyNote) {
		e.ClearDraft()
	}
	return true, err
}

// save writes body; written runs after a successful write, before the list
// is refreshed.
func (e *Editor) save(ctx context.Context, body string, written func()) (notes.Note, error) {
	if strings.TrimSpace(body) == "" {
		e.sink.Post(status.NoteEmpty)
		return notes.Note{}, ErrEmptyNote
	}
	note, err := e.store.Create(ctx, body)
	if err != nil {
		e.log.Error("failed to save note", slog.String("error", err.Error()))
		if errors.Is(err, kv.ErrQuotaExceeded) {
			e.sink.Post(status.StorageFull)
		} else {
			e.sink.Post(status.SaveFailed)
		}
		return notes.Note{}, fmt.Errorf("save note: %w", err)
	}

	if written != nil {
		written()
	}
	e.mu.Lock()
	refresher := e.refresher
	e.mu.Unlock()
	if refresher != nil {
		refresher.Refresh(ctx)
	}
	e.log.Info("note saved", slog.String("id", note.ID))
	e.sink.Post(status.NoteSaved)
	return note, nil
}
