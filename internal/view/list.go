// Package view renders the notes list and dispatches per-row actions.
package view

import (
	"context"
	"log/slog"
	"sync"

	"github.com/loqalabs/loqa-notes/internal/notes"
)

// Placeholder is shown instead of rows when there are no notes.
const Placeholder = "You don't have any notes."

type Row struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

// Page is one rendering of the list. Placeholder is set only when Rows is
// empty.
type Page struct {
	Rows        []Row  `json:"rows"`
	Placeholder string `json:"placeholder,omitempty"`
}

func (p Page) Empty() bool { return len(p.Rows) == 0 }

// Lister enumerates notes.
type Lister interface {
	ListAll(ctx context.Context) ([]notes.Note, error)
}

// List caches the last rendered page and fans it out to subscribers.
type List struct {
	store Lister
	log   *slog.Logger

	mu        sync.Mutex
	rendering bool
	stale     bool
	page      Page
	subs      map[int]func(context.Context, Page)
	nextSub   int
}

// passKey marks the context handed to subscribers during a render pass.
type passKey struct{}

// maxPasses bounds the passes one Render runs when other callers keep
// marking the page stale.
const maxPasses = 4

func NewList(store Lister, log *slog.Logger) *List {
	return &List{
		store: store,
		log:   log.With(slog.String("component", "view")),
		page:  Page{Rows: []Row{}, Placeholder: Placeholder},
		subs:  make(map[int]func(context.Context, Page)),
	}
}

// Render rebuilds the page from the store and notifies subscribers.
//
// Subscribers receive a context marking the pass; a Render called with it
// is a re-entrant pass and does nothing, reporting false. A Render from
// elsewhere while a pass is in flight also reports false, but marks the
// page stale so the running pass reads the store again before it returns.
// If the store cannot be read the previous page is kept.
func (l *List) Render(ctx context.Context) (Page, bool) {
	if owner, _ := ctx.Value(passKey{}).(*List); owner == l {
		l.log.Debug("render skipped inside a render pass")
		return l.Page(), false
	}

	l.mu.Lock()
	if l.rendering {
		l.stale = true
		page := l.page.clone()
		l.mu.Unlock()
		l.log.Debug("render already in progress; marked stale")
		return page, false
	}
	l.rendering = true
	l.mu.Unlock()

	passCtx := context.WithValue(ctx, passKey{}, l)
	var page Page
	for pass := 1; ; pass++ {
		page = l.pass(passCtx)

		l.mu.Lock()
		if !l.stale || pass == maxPasses {
			l.stale = false
			l.rendering = false
			l.mu.Unlock()
			return page, true
		}
		l.stale = false
		l.mu.Unlock()
	}
}

func (l *List) pass(ctx context.Context) Page {
	all, err := l.store.ListAll(ctx)
	if err != nil {
		l.log.Warn("failed to list notes", slog.String("error", err.Error()))
		return l.Page()
	}
	page := Page{Rows: make([]Row, 0, len(all))}
	for _, n := range all {
		page.Rows = append(page.Rows, Row{ID: n.ID, Body: n.Body})
	}
	if page.Empty() {
		page.Placeholder = Placeholder
	}

	l.mu.Lock()
	l.page = page
	subs := l.subscribers()
	l.mu.Unlock()

	for _, fn := range subs {
		fn(ctx, page.clone())
	}
	return page.clone()
}

// Refresh renders and discards the result.
func (l *List) Refresh(ctx context.Context) {
	l.Render(ctx)
}

// Page is the last rendered page.
func (l *List) Page() Page {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.page.clone()
}

// Row looks id up in the last rendered page.
func (l *List) Row(id string) (Row, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.page.Rows {
		if r.ID == id {
			return r, true
		}
	}
	return Row{}, false
}

// RemoveRow drops one row from the cached page without re-reading the
// store. It reports whether the row was present.
func (l *List) RemoveRow(id string) bool {
	l.mu.Lock()
	idx := -1
	for i, r := range l.page.Rows {
		if r.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		l.mu.Unlock()
		return false
	}
	rows := make([]Row, 0, len(l.page.Rows)-1)
	rows = append(rows, l.page.Rows[:idx]...)
	rows = append(rows, l.page.Rows[idx+1:]...)
	l.page = Page{Rows: rows}
	if l.page.Empty() {
		l.page.Placeholder = Placeholder
	}
	page := l.page.clone()
	subs := l.subscribers()
	l.mu.Unlock()

	for _, fn := range subs {
		fn(context.Background(), page)
	}
	return true
}

// Subscribe registers fn for every page change. A subscriber that renders
// should pass on the ctx it is given. The returned func unregisters it.
func (l *List) Subscribe(fn func(ctx context.Context, page Page)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}
}

func (l *List) subscribers() []func(context.Context, Page) {
	out := make([]func(context.Context, Page), 0, len(l.subs))
	for _, fn := range l.subs {
		out = append(out, fn)
	}
	return out
}

func (p Page) clone() Page {
	return Page{Rows: append([]Row{}, p.Rows...), Placeholder: p.Placeholder}
}
