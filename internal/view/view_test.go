package view

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-notes/internal/config"
	"github.com/loqalabs/loqa-notes/internal/filesave"
	"github.com/loqalabs/loqa-notes/internal/kv"
	"github.com/loqalabs/loqa-notes/internal/notes"
	"github.com/loqalabs/loqa-notes/internal/status"
	"github.com/loqalabs/loqa-notes/internal/tts"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store   *notes.Store
	list    *List
	actions *Actions
	speaker *tts.Recorder
	saver   *filesave.Memory
	sink    *status.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend := kv.NewMemory(kv.Quota{})
	f := &fixture{
		store:   notes.NewStore(backend),
		speaker: &tts.Recorder{},
		saver:   &filesave.Memory{},
		sink:    &status.Recorder{},
	}
	f.list = NewList(f.store, discardLogger())
	f.actions = NewActions(f.store, f.list, f.speaker, f.saver, f.sink, WithLogger(discardLogger()))
	return f
}

func TestRenderEmptyShowsPlaceholder(t *testing.T) {
	f := newFixture(t)
	page, ok := f.list.Render(context.Background())
	require.True(t, ok)
	assert.True(t, page.Empty())
	assert.Equal(t, Placeholder, page.Placeholder)
}

func TestRenderListsNotesInStoreOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.store.Create(ctx, "first")
	require.NoError(t, err)
	b, err := f.store.Create(ctx, "second")
	require.NoError(t, err)

	page, ok := f.list.Render(ctx)
	require.True(t, ok)
	assert.Empty(t, page.Placeholder)
	assert.Equal(t, []Row{{ID: a.ID, Body: "first"}, {ID: b.ID, Body: "second"}}, page.Rows)
}

func TestRenderIsNotReentrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.Create(ctx, "note")
	require.NoError(t, err)

	var nested []bool
	cancel := f.list.Subscribe(func(passCtx context.Context, _ Page) {
		_, ok := f.list.Render(passCtx)
		nested = append(nested, ok)
	})
	defer cancel()

	_, ok := f.list.Render(ctx)
	assert.True(t, ok)
	assert.Equal(t, []bool{false}, nested, "a render triggered by a render must be a no-op")

	_, ok = f.list.Render(ctx)
	assert.True(t, ok, "the guard must be released afterwards")
}

// gatedLister blocks its first ListAll after reading, until released.
type gatedLister struct {
	inner   Lister
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedLister) ListAll(ctx context.Context) ([]notes.Note, error) {
	all, err := g.inner.ListAll(ctx)
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return all, err
}

func TestRenderDuringPassIsNotLost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gate := &gatedLister{inner: f.store, entered: make(chan struct{}), release: make(chan struct{})}
	list := NewList(gate, discardLogger())

	done := make(chan Page, 1)
	go func() {
		page, _ := list.Render(ctx)
		done <- page
	}()
	<-gate.entered

	saved, err := f.store.Create(ctx, "saved while rendering")
	require.NoError(t, err)
	_, ok := list.Render(ctx)
	assert.False(t, ok, "a pass is already running")

	close(gate.release)
	page := <-done
	assert.Equal(t, []Row{{ID: saved.ID, Body: "saved while rendering"}}, page.Rows)
	assert.Equal(t, page.Rows, list.Page().Rows)

	_, ok = list.Render(ctx)
	assert.True(t, ok)
}

func TestSubscriberIgnoringPassContextStops(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	calls := 0
	cancel := f.list.Subscribe(func(context.Context, Page) {
		calls++
		f.list.Render(ctx)
	})
	defer cancel()

	_, ok := f.list.Render(ctx)
	assert.True(t, ok)
	assert.Equal(t, maxPasses, calls)
}

type brokenLister struct{}

func (brokenLister) ListAll(context.Context) ([]notes.Note, error) {
	return nil, errors.New("disk gone")
}

func TestRenderKeepsPageOnError(t *testing.T) {
	l := NewList(brokenLister{}, discardLogger())
	page, ok := l.Render(context.Background())
	assert.True(t, ok)
	assert.Equal(t, Placeholder, page.Placeholder)
}

func TestDeleteRemovesRowWithoutReload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	keep, err := f.store.Create(ctx, "keep")
	require.NoError(t, err)
	drop, err := f.store.Create(ctx, "drop")
	require.NoError(t, err)
	f.list.Render(ctx)

	var pages []Page
	cancel := f.list.Subscribe(func(_ context.Context, p Page) { pages = append(pages, p) })
	defer cancel()

	require.NoError(t, f.actions.Dispatch(ctx, Delete, drop.ID))
	assert.Equal(t, []Row{{ID: keep.ID, Body: "keep"}}, f.list.Page().Rows)
	require.Len(t, pages, 1)
	assert.Equal(t, status.NoteDeleted, f.sink.Last())

	_, err = f.store.Get(ctx, drop.ID)
	assert.ErrorIs(t, err, notes.ErrNotFound)

	require.NoError(t, f.actions.Dispatch(ctx, Delete, keep.ID))
	assert.Equal(t, Placeholder, f.list.Page().Placeholder)
}

func TestDeleteMissingIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other, err := f.store.Create(ctx, "other")
	require.NoError(t, err)
	f.list.Render(ctx)

	require.NoError(t, f.actions.Dispatch(ctx, Delete, "1999-01-01T00:00:00.000Z"))
	all, err := f.store.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []notes.Note{other}, all)
	assert.False(t, f.list.RemoveRow("1999-01-01T00:00:00.000Z"))
}

func TestListenSpeaksBody(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n, err := f.store.Create(ctx, "read me")
	require.NoError(t, err)

	// Not rendered yet: falls back to the store.
	require.NoError(t, f.actions.Dispatch(ctx, Listen, n.ID))
	assert.Equal(t, []string{"read me"}, f.speaker.Texts())

	assert.ErrorIs(t, f.actions.Dispatch(ctx, Listen, "missing"), notes.ErrNotFound)
}

func TestDownloadUsesFixedName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.store.Create(ctx, "alpha")
	require.NoError(t, err)
	b, err := f.store.Create(ctx, "beta")
	require.NoError(t, err)
	f.list.Render(ctx)

	require.NoError(t, f.actions.Dispatch(ctx, Download, a.ID))
	require.NoError(t, f.actions.Dispatch(ctx, Download, b.ID))

	data, ok := f.saver.File(filesave.DefaultFilename)
	require.True(t, ok)
	assert.Equal(t, "beta", string(data), "the second download replaces the first")
	assert.Equal(t, 2, f.saver.Saves())
	assert.Equal(t, status.NoteDownloaded, f.sink.Last())
}

func TestDispatchUnknownControl(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.actions.Dispatch(context.Background(), Control(42), "x"), ErrUnknownControl)
}

func TestParseControl(t *testing.T) {
	for name, want := range map[string]Control{
		"listen":        Listen,
		"listen-note":   Listen,
		"Delete":        Delete,
		"download-note": Download,
	} {
		got, err := ParseControl(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := ParseControl("share")
	assert.ErrorIs(t, err, ErrUnknownControl)
}

func TestWatcherRendersExternalWrites(t *testing.T) {
	cfg := config.StoreConfig{Backend: "sqlite", Path: filepath.Join(t.TempDir(), "notes.db")}
	ctx := context.Background()

	ours, err := kv.OpenSQLite(ctx, cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ours.Close() })
	list := NewList(notes.NewStore(ours), discardLogger())
	list.Render(ctx)

	w := NewWatcher(ours.Path(), list, discardLogger())
	require.NoError(t, w.Start(ctx))
	t.Cleanup(w.Close)

	theirs, err := kv.OpenSQLite(ctx, cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = theirs.Close() })
	_, err = notes.NewStore(theirs).Create(ctx, "from another process")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rows := list.Page().Rows
		return len(rows) == 1 && rows[0].Body == "from another process"
	}, 5*time.Second, 20*time.Millisecond)
}
