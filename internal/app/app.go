// Package app assembles one note-taking session from configuration and
// exposes the user-facing controls every surface drives.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-notes/internal/bus"
	"github.com/loqalabs/loqa-notes/internal/clock"
	"github.com/loqalabs/loqa-notes/internal/config"
	"github.com/loqalabs/loqa-notes/internal/editor"
	"github.com/loqalabs/loqa-notes/internal/filesave"
	"github.com/loqalabs/loqa-notes/internal/kv"
	"github.com/loqalabs/loqa-notes/internal/natsserver"
	"github.com/loqalabs/loqa-notes/internal/notes"
	"github.com/loqalabs/loqa-notes/internal/presence"
	"github.com/loqalabs/loqa-notes/internal/recorder"
	"github.com/loqalabs/loqa-notes/internal/speech"
	"github.com/loqalabs/loqa-notes/internal/status"
	"github.com/loqalabs/loqa-notes/internal/tts"
	"github.com/loqalabs/loqa-notes/internal/view"
)

// App is one UI session.
type App struct {
	cfg config.Config
	log *slog.Logger

	embedded *natsserver.EmbeddedServer
	bus      *bus.Client
	kv       kv.Store
	engine   speech.Engine
	speaker  tts.Speaker
	watcher  *view.Watcher
	presence *presence.Registry

	store    *notes.Store
	status   *status.Line
	editor   *editor.Editor
	recorder *recorder.Controller
	list     *view.List
	actions  *view.Actions
}

type options struct {
	engine  speech.Engine
	speaker tts.Speaker
	saver   filesave.Saver
	kv      kv.Store
	clock   clock.Clock
}

type Option func(*options)

// WithEngine replaces the speech engine selected by speech.mode.
func WithEngine(e speech.Engine) Option { return func(o *options) { o.engine = e } }

// WithSpeaker replaces the speaker selected by tts.mode.
func WithSpeaker(s tts.Speaker) Option { return func(o *options) { o.speaker = s } }

// WithSaver replaces the download directory saver.
func WithSaver(s filesave.Saver) Option { return func(o *options) { o.saver = s } }

// WithStore uses backend instead of opening store.backend. The App closes
// it.
func WithStore(backend kv.Store) Option { return func(o *options) { o.kv = backend } }

// WithClock drives the silence watchdog and status animation.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// New builds the session. On error everything opened so far is released.
func New(ctx context.Context, cfg config.Config, log *slog.Logger, opts ...Option) (a *App, err error) {
	o := options{clock: clock.Real{}}
	for _, opt := range opts {
		opt(&o)
	}

	a = &App{cfg: cfg, log: log.With(slog.String("component", "app"))}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	if err := a.connectBus(ctx); err != nil {
		return a, err
	}

	a.kv = o.kv
	if a.kv == nil {
		if a.kv, err = kv.Open(ctx, cfg.Store, log); err != nil {
			return a, fmt.Errorf("open store: %w", err)
		}
	}
	a.store = notes.NewStore(a.kv, notes.WithClock(o.clock.Now), notes.WithLogger(log))

	lineOpts := []status.Option{status.WithClock(o.clock), status.WithLogger(log)}
	if a.bus != nil {
		lineOpts = append(lineOpts, status.WithBus(a.bus))
	}
	a.status = status.NewLine(time.Duration(cfg.Status.SlideMS)*time.Millisecond, lineOpts...)

	a.list = view.NewList(a.store, log)
	a.editor = editor.New(a.store, a.status, editor.WithRefresher(a.list), editor.WithLogger(log))

	a.engine = o.engine
	if a.engine == nil {
		if a.engine, err = a.newEngine(); err != nil {
			return a, err
		}
	}
	a.recorder = recorder.New(a.engine, a.editor, a.status,
		recorder.WithClock(o.clock),
		recorder.WithSilenceTimeout(time.Duration(cfg.Speech.SilenceTimeoutMS)*time.Millisecond),
		recorder.WithContinuous(cfg.Speech.Continuous),
		recorder.WithLogger(log),
	)

	a.speaker = o.speaker
	if a.speaker == nil {
		if a.speaker, err = a.newSpeaker(); err != nil {
			return a, err
		}
	}
	saver := o.saver
	if saver == nil {
		saver = filesave.NewDirSaver(cfg.Download.Directory, log)
	}
	a.actions = view.NewActions(a.store, a.list, a.speaker, saver, a.status,
		view.WithFilename(cfg.Download.Filename), view.WithLogger(log))

	a.list.Render(ctx)

	if a.bus != nil {
		if a.presence, err = presence.Start(cfg.Node, cfg.RuntimeName, a.capabilities(), a.bus, log); err != nil {
			return a, fmt.Errorf("start presence: %w", err)
		}
	}

	if cfg.View.Watch {
		if p, ok := a.kv.(kv.Pather); ok {
			w := view.NewWatcher(p.Path(), a.list, log)
			if err := w.Start(ctx); err != nil {
				a.log.Warn("store watcher disabled", slog.String("error", err.Error()))
			} else {
				a.watcher = w
			}
		}
	}

	a.log.Info("session ready",
		slog.Bool("speech", a.recorder.Available()),
		slog.String("store", cfg.Store.Backend),
		slog.Bool("bus", a.bus != nil),
	)
	return a, nil
}

func (a *App) connectBus(ctx context.Context) error {
	if !a.cfg.Bus.Enabled {
		return nil
	}
	busCfg := a.cfg.Bus
	srv, err := natsserver.Start(busCfg, a.log)
	if err != nil {
		return fmt.Errorf("start embedded nats: %w", err)
	}
	if srv != nil {
		a.embedded = srv
		busCfg.Servers = []string{srv.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, a.log)
	if err != nil {
		return err
	}
	a.bus = client
	return nil
}

func (a *App) newEngine() (speech.Engine, error) {
	cfg := a.cfg.Speech
	if !cfg.Enabled {
		return speech.Unavailable{}, nil
	}
	switch cfg.Mode {
	case "mock":
		return speech.NewMock(), nil
	case "exec":
		e, err := speech.NewExec(cfg.Command, cfg.Language, a.log)
		if err != nil {
			return nil, err
		}
		return e, nil
	case "bus":
		if a.bus == nil {
			return nil, errors.New("speech.mode=bus requires bus.enabled")
		}
		return speech.NewBus(a.bus, cfg.Language, a.log), nil
	}
	return nil, fmt.Errorf("unsupported speech mode %q", cfg.Mode)
}

func (a *App) newSpeaker() (tts.Speaker, error) {
	cfg := a.cfg.TTS
	if !cfg.Enabled {
		return tts.Silent{}, nil
	}
	var synth tts.Synthesizer
	switch cfg.Mode {
	case "bus":
		if a.bus == nil {
			return nil, errors.New("tts.mode=bus requires bus.enabled")
		}
		return tts.NewBusSpeaker(a.bus, cfg.Voice, a.cfg.RuntimeName, a.log), nil
	case "mock":
		synth = tts.NewMockSynth(cfg.SampleRate, cfg.Channels)
	case "exec":
		s, err := tts.NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
		if err != nil {
			return nil, err
		}
		synth = s
	default:
		return nil, fmt.Errorf("unsupported tts mode %q", cfg.Mode)
	}
	player, err := tts.NewSpoolPlayer(cfg.SpoolDir, a.log)
	if err != nil {
		return nil, err
	}
	return tts.NewSynthSpeaker(synth, player, cfg.Voice, a.log), nil
}

// Start begins dictation.
func (a *App) Start(ctx context.Context) error { return a.recorder.Start(ctx) }

// Pause stops dictation at the user's request.
func (a *App) Pause() error { return a.recorder.Pause() }

// Reset stops dictation and discards the draft.
func (a *App) Reset() { a.recorder.Reset() }

// Save stops any active dictation, then saves the draft.
func (a *App) Save(ctx context.Context) (notes.Note, error) {
	a.recorder.StopForSave()
	return a.editor.SaveDraft(ctx)
}

// SaveText saves manually entered text.
func (a *App) SaveText(ctx context.Context, text string) (notes.Note, error) {
	return a.editor.SaveText(ctx, text)
}

// SetText records edits to the visible text.
func (a *App) SetText(text string) { a.editor.SetVisible(text) }

// SubmitLine forwards a key press from the editing surface.
func (a *App) SubmitLine(ctx context.Context, key editor.Key) (bool, error) {
	return a.editor.SubmitLine(ctx, key)
}

func (a *App) Listen(ctx context.Context, id string) error {
	return a.actions.Dispatch(ctx, view.Listen, id)
}

func (a *App) Delete(ctx context.Context, id string) error {
	return a.actions.Dispatch(ctx, view.Delete, id)
}

func (a *App) Download(ctx context.Context, id string) error {
	return a.actions.Dispatch(ctx, view.Download, id)
}

// Dispatch runs a row control by name.
func (a *App) Dispatch(ctx context.Context, control view.Control, id string) error {
	return a.actions.Dispatch(ctx, control, id)
}

// Note reads one note from the store.
func (a *App) Note(ctx context.Context, id string) (notes.Note, error) {
	return a.store.Get(ctx, id)
}

// Notes lists every note in store order.
func (a *App) Notes(ctx context.Context) ([]notes.Note, error) {
	return a.store.ListAll(ctx)
}

// Render rebuilds the notes list.
func (a *App) Render(ctx context.Context) (view.Page, bool) { return a.list.Render(ctx) }

// DownloadName is the file name downloads are saved under.
func (a *App) DownloadName() string { return a.actions.Filename() }

// Snapshot is everything a surface needs to draw the session.
type Snapshot struct {
	State     string          `json:"state"`
	SessionID string          `json:"session_id,omitempty"`
	Available bool            `json:"speech_available"`
	Status    status.Snapshot `json:"status"`
	Draft     string          `json:"draft"`
	Text      string          `json:"text"`
	Page      view.Page       `json:"notes"`
}

func (a *App) Snapshot() Snapshot {
	return Snapshot{
		State:     a.recorder.State().String(),
		SessionID: a.recorder.SessionID(),
		Available: a.recorder.Available(),
		Status:    a.status.Snapshot(),
		Draft:     a.editor.Draft(),
		Text:      a.editor.Visible(),
		Page:      a.list.Page(),
	}
}

// Subscribe calls fn whenever the status line or the notes list changes.
// The returned func unregisters it.
func (a *App) Subscribe(fn func()) func() {
	stopStatus := a.status.Subscribe(func(status.Snapshot) { fn() })
	stopList := a.list.Subscribe(func(context.Context, view.Page) { fn() })
	return func() {
		stopStatus()
		stopList()
	}
}

// capabilities is what this session advertises to the bus.
func (a *App) capabilities() []presence.Capability {
	caps := []presence.Capability{{
		Name:       "notes",
		Mode:       a.cfg.Store.Backend,
		Attributes: map[string]string{"download": a.cfg.Download.Filename},
	}}
	if a.recorder.Available() {
		caps = append(caps, presence.Capability{Name: "dictation", Mode: a.cfg.Speech.Mode,
			Attributes: map[string]string{"language": a.cfg.Speech.Language}})
	}
	if a.cfg.TTS.Enabled {
		caps = append(caps, presence.Capability{Name: "playback", Mode: a.cfg.TTS.Mode,
			Attributes: map[string]string{"voice": a.cfg.TTS.Voice}})
	}
	return caps
}

// Peers lists the nodes seen on the bus, this one included. It is empty
// when the bus is disabled.
func (a *App) Peers() []presence.Node {
	if a.presence == nil {
		return nil
	}
	return a.presence.Nodes(nil)
}

// Healthy reports whether the session's dependencies are usable.
func (a *App) Healthy() bool {
	if a.bus == nil {
		return true
	}
	return a.bus.Healthy() && (a.presence == nil || a.presence.Healthy())
}

// Close stops dictation and releases every resource.
func (a *App) Close() error {
	var errs []error
	if a.watcher != nil {
		a.watcher.Close()
	}
	if a.recorder != nil && a.recorder.State() == recorder.Recording {
		_ = a.recorder.Pause()
	}
	if s, ok := a.speaker.(*tts.SynthSpeaker); ok {
		s.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close note store: %w", err))
		}
	}
	if a.kv != nil {
		if err := a.kv.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if a.presence != nil {
		a.presence.Close()
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if a.embedded != nil {
		a.embedded.Shutdown()
	}
	return errors.Join(errs...)
}
