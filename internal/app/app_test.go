package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-notes/internal/clock"
	"github.com/loqalabs/loqa-notes/internal/config"
	"github.com/loqalabs/loqa-notes/internal/editor"
	"github.com/loqalabs/loqa-notes/internal/filesave"
	"github.com/loqalabs/loqa-notes/internal/speech"
	"github.com/loqalabs/loqa-notes/internal/status"
	"github.com/loqalabs/loqa-notes/internal/tts"
	"github.com/loqalabs/loqa-notes/internal/view"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	dir := t.TempDir()
	cfg.Store.Backend = "memory"
	cfg.Store.Path = filepath.Join(dir, "notes.db")
	cfg.TTS.SpoolDir = filepath.Join(dir, "speech")
	cfg.Download.Directory = filepath.Join(dir, "downloads")
	cfg.View.Watch = false
	return cfg
}

type session struct {
	app     *App
	engine  *speech.Mock
	speaker *tts.Recorder
	saver   *filesave.Memory
	clock   *clock.Fake
}

func newSession(t *testing.T, cfg config.Config) *session {
	t.Helper()
	s := &session{
		engine:  speech.NewMock(),
		speaker: &tts.Recorder{},
		saver:   &filesave.Memory{},
		clock:   clock.NewFake(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)),
	}
	a, err := New(context.Background(), cfg, discardLogger(),
		WithEngine(s.engine),
		WithSpeaker(s.speaker),
		WithSaver(s.saver),
		WithClock(s.clock),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	s.app = a
	return s
}

func TestBuyMilkScenario(t *testing.T) {
	s := newSession(t, testConfig(t))
	ctx := context.Background()

	require.NoError(t, s.app.Start(ctx))
	s.engine.EmitResult("buy milk")
	note, err := s.app.Save(ctx)
	require.NoError(t, err)

	all, err := s.app.Notes(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "buy milk", all[0].Body)
	assert.Equal(t, note.ID, all[0].ID)

	snap := s.app.Snapshot()
	assert.Equal(t, "idle", snap.State)
	assert.Empty(t, snap.Draft)
	assert.Equal(t, status.NoteSaved, snap.Status.Text)
	require.Len(t, snap.Page.Rows, 1)

	require.NoError(t, s.app.Delete(ctx, note.ID))
	all, err = s.app.Notes(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Equal(t, view.Placeholder, s.app.Snapshot().Page.Placeholder)
}

func TestSaveStopsRecordingFirst(t *testing.T) {
	s := newSession(t, testConfig(t))
	ctx := context.Background()

	var seen []string
	stop := s.app.Subscribe(func() { seen = append(seen, s.app.Snapshot().Status.Text) })
	defer stop()

	require.NoError(t, s.app.Start(ctx))
	s.engine.EmitResult("hello")
	_, err := s.app.Save(ctx)
	require.NoError(t, err)

	assert.False(t, s.engine.Running())
	assert.Contains(t, seen, status.RecordingStopped)
	assert.Equal(t, status.NoteSaved, s.app.Snapshot().Status.Text)
}

func TestSaveEmptyDraft(t *testing.T) {
	s := newSession(t, testConfig(t))
	_, err := s.app.Save(context.Background())
	assert.ErrorIs(t, err, editor.ErrEmptyNote)
	assert.Equal(t, status.NoteEmpty, s.app.Snapshot().Status.Text)
}

func TestSilenceThenPauseScenario(t *testing.T) {
	s := newSession(t, testConfig(t))
	ctx := context.Background()

	require.NoError(t, s.app.Start(ctx))
	s.engine.EmitSoundEnd()
	s.clock.Advance(2 * time.Second)
	require.NoError(t, s.app.Pause())
	s.clock.Advance(10 * time.Second)

	snap := s.app.Snapshot()
	assert.Equal(t, "idle", snap.State)
	assert.Equal(t, status.RecordingPaused, snap.Status.Text)
	assert.False(t, snap.Status.Sliding)
	assert.Equal(t, 1, s.engine.Stops())
}

func TestStatusSlidesAfterUpdate(t *testing.T) {
	s := newSession(t, testConfig(t))
	require.NoError(t, s.app.Start(context.Background()))
	assert.True(t, s.app.Snapshot().Status.Sliding)
	s.clock.Advance(500 * time.Millisecond)
	assert.False(t, s.app.Snapshot().Status.Sliding)
}

func TestSubmitLineAndRowActions(t *testing.T) {
	s := newSession(t, testConfig(t))
	ctx := context.Background()

	s.app.SetText("call mom")
	handled, err := s.app.SubmitLine(ctx, editor.Key{Name: editor.KeyEnter})
	require.NoError(t, err)
	require.True(t, handled)
	assert.Empty(t, s.app.Snapshot().Text)

	rows := s.app.Snapshot().Page.Rows
	require.Len(t, rows, 1)
	id := rows[0].ID

	require.NoError(t, s.app.Listen(ctx, id))
	assert.Equal(t, []string{"call mom"}, s.speaker.Texts())

	require.NoError(t, s.app.Download(ctx, id))
	data, ok := s.saver.File(filesave.DefaultFilename)
	require.True(t, ok)
	assert.Equal(t, "call mom", string(data))
	assert.Equal(t, filesave.DefaultFilename, s.app.DownloadName())
}

func TestSpeechDisabledMakesControlsInert(t *testing.T) {
	cfg := testConfig(t)
	cfg.Speech.Enabled = false
	a, err := New(context.Background(), cfg, discardLogger(), WithSpeaker(&tts.Recorder{}))
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Start(context.Background()))
	snap := a.Snapshot()
	assert.False(t, snap.Available)
	assert.Equal(t, "idle", snap.State)
	assert.Empty(t, snap.Status.Text)
}

func TestSQLiteSessionPersistsAndSpools(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = "sqlite"
	cfg.View.Watch = true
	ctx := context.Background()

	a, err := New(ctx, cfg, discardLogger(), WithEngine(speech.NewMock()))
	require.NoError(t, err)
	saved, err := a.SaveText(ctx, "persist me")
	require.NoError(t, err)
	require.NoError(t, a.Listen(ctx, saved.ID))
	require.NoError(t, a.Download(ctx, saved.ID))
	require.NoError(t, a.Close())

	data, err := os.ReadFile(filepath.Join(cfg.Download.Directory, "note.txt"))
	require.NoError(t, err)
	assert.Equal(t, "persist me", string(data))

	spooled, err := filepath.Glob(filepath.Join(cfg.TTS.SpoolDir, "*.wav"))
	require.NoError(t, err)
	assert.Len(t, spooled, 1, "Close waits for in-flight speech")

	b, err := New(ctx, cfg, discardLogger(), WithEngine(speech.NewMock()))
	require.NoError(t, err)
	defer b.Close()
	n, err := b.Note(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "persist me", n.Body)
}

func TestBusSession(t *testing.T) {
	cfg := testConfig(t)
	cfg.Bus.Enabled = true
	cfg.Bus.Embedded = true
	cfg.Bus.Port = -1
	cfg.Bus.StoreDir = t.TempDir()
	cfg.TTS.Mode = "bus"

	a, err := New(context.Background(), cfg, discardLogger(), WithEngine(speech.NewMock()))
	require.NoError(t, err)
	defer a.Close()
	assert.True(t, a.Healthy())

	peers := a.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, cfg.Node.ID, peers[0].ID)
	var names []string
	for _, c := range peers[0].Capabilities {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"notes", "dictation", "playback"}, names)

	saved, err := a.SaveText(context.Background(), "over the wire")
	require.NoError(t, err)
	require.NoError(t, a.Listen(context.Background(), saved.ID))
}

func TestUnsupportedModes(t *testing.T) {
	cfg := testConfig(t)
	cfg.Speech.Mode = "telepathy"
	_, err := New(context.Background(), cfg, discardLogger())
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.Speech.Mode = "bus"
	_, err = New(context.Background(), cfg, discardLogger())
	assert.Error(t, err)
}
