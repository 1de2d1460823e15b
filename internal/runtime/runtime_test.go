package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-notes/internal/app"
	"github.com/loqalabs/loqa-notes/internal/config"
	"github.com/loqalabs/loqa-notes/internal/filesave"
	"github.com/loqalabs/loqa-notes/internal/kv"
	"github.com/loqalabs/loqa-notes/internal/notes"
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
	cfg.HTTP.Port = 0
	cfg.Telemetry.PrometheusBind = ""
	cfg.Store.Backend = "memory"
	cfg.Store.Path = filepath.Join(dir, "notes.db")
	cfg.TTS.Enabled = false
	cfg.Download.Directory = filepath.Join(dir, "downloads")
	cfg.View.Watch = false
	return cfg
}

type apiFixture struct {
	server  *httptest.Server
	engine  *speech.Mock
	speaker *tts.Recorder
}

func newAPIFixture(t *testing.T, opts ...app.Option) *apiFixture {
	t.Helper()
	f := &apiFixture{engine: speech.NewMock(), speaker: &tts.Recorder{}}
	opts = append([]app.Option{app.WithEngine(f.engine), app.WithSpeaker(f.speaker), app.WithSaver(&filesave.Memory{})}, opts...)
	session, err := app.New(context.Background(), testConfig(t), discardLogger(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	mux := http.NewServeMux()
	NewAPI(session, discardLogger()).Register(mux)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestAPIDictateSaveDownloadDelete(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/record/start", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decode[app.Snapshot](t, resp)
	assert.Equal(t, "recording", snap.State)
	assert.Equal(t, status.RecordingStarted, snap.Status.Text)

	resp = f.do(t, http.MethodPost, "/api/record/start", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	f.engine.EmitResult("buy milk")

	resp = f.do(t, http.MethodPost, "/api/notes", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	saved := decode[saveResponse](t, resp)
	require.True(t, saved.Saved)
	require.NotNil(t, saved.Note)
	assert.Equal(t, "buy milk", saved.Note.Body)
	assert.Equal(t, "idle", saved.Session.State)
	id := saved.Note.ID

	resp = f.do(t, http.MethodGet, "/api/notes", "")
	page := decode[view.Page](t, resp)
	assert.Equal(t, []view.Row{{ID: id, Body: "buy milk"}}, page.Rows)

	resp = f.do(t, http.MethodGet, "/api/notes/"+id+"/download", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "attachment; filename=note.txt", resp.Header.Get("Content-Disposition"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "buy milk", string(body))

	resp = f.do(t, http.MethodPost, "/api/notes/"+id+"/listen", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []string{"buy milk"}, f.speaker.Texts())

	resp = f.do(t, http.MethodDelete, "/api/notes/"+id, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = f.do(t, http.MethodDelete, "/api/notes/"+id, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode, "delete is idempotent")

	resp = f.do(t, http.MethodGet, "/api/notes", "")
	page = decode[view.Page](t, resp)
	assert.Empty(t, page.Rows)
	assert.Equal(t, view.Placeholder, page.Placeholder)

	resp = f.do(t, http.MethodGet, "/api/notes/"+id+"/download", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIPauseAndReset(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/record/pause", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	f.do(t, http.MethodPost, "/api/record/start", "")
	f.engine.EmitResult("scratch")
	resp = f.do(t, http.MethodPost, "/api/record/pause", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decode[app.Snapshot](t, resp)
	assert.Equal(t, status.RecordingPaused, snap.Status.Text)
	assert.Equal(t, "scratch", snap.Draft)

	resp = f.do(t, http.MethodPost, "/api/record/reset", "")
	snap = decode[app.Snapshot](t, resp)
	assert.Empty(t, snap.Draft)
	assert.Equal(t, status.RecordingReset, snap.Status.Text)
}

func TestAPISaveText(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/notes/text", `{"text":"   "}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	empty := decode[saveResponse](t, resp)
	assert.False(t, empty.Saved)
	assert.Equal(t, status.NoteEmpty, empty.Session.Status.Text)

	resp = f.do(t, http.MethodPost, "/api/notes/text", `{"text":"typed by hand"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "typed by hand", decode[saveResponse](t, resp).Note.Body)

	resp = f.do(t, http.MethodPost, "/api/notes/text", `{`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPISubmit(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/notes/submit", `{"text":"line one","shift":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	kept := decode[saveResponse](t, resp)
	assert.False(t, kept.Saved)
	assert.Equal(t, "line one", kept.Session.Text)

	resp = f.do(t, http.MethodPost, "/api/notes/submit", `{"text":"line one\nline two"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	submitted := decode[saveResponse](t, resp)
	assert.True(t, submitted.Saved)
	assert.True(t, submitted.Handled)
	assert.Empty(t, submitted.Session.Text)
	require.Len(t, submitted.Session.Page.Rows, 1)
	assert.Equal(t, "line one\nline two", submitted.Session.Page.Rows[0].Body)
}

func TestAPIQuotaExceeded(t *testing.T) {
	f := newAPIFixture(t, app.WithStore(kv.NewMemory(kv.Quota{MaxBytes: 40})))

	resp := f.do(t, http.MethodPost, "/api/notes/text", `{"text":"this body is far too long to fit in forty bytes"}`)
	assert.Equal(t, http.StatusInsufficientStorage, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/session", "")
	assert.Equal(t, status.StorageFull, decode[app.Snapshot](t, resp).Status.Text)
}

func TestTelemetryServesNoteMetrics(t *testing.T) {
	cfg := testConfig(t)
	shutdown, handler, err := setupTelemetry(cfg, discardLogger())
	require.NoError(t, err)
	defer shutdown(context.Background())
	require.NotNil(t, handler)

	store := notes.NewStore(kv.NewMemory(kv.Quota{}))
	_, err = store.Create(context.Background(), "counted")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "notes_saved")
	assert.Contains(t, rec.Body.String(), "notes_count")
}

func TestRuntimeStartStop(t *testing.T) {
	rt := New(testConfig(t), discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Start(ctx) }()

	require.Eventually(t, rt.ready.Load, 5*time.Second, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	rt.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("runtime did not stop")
	}

	rec = httptest.NewRecorder()
	rt.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	rt.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
