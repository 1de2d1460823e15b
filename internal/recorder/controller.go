// Package recorder owns the dictation state machine: Idle <-> Recording,
// with a silence watchdog and a record of why recognition stopped.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/loqa-notes/internal/clock"
	"github.com/loqalabs/loqa-notes/internal/speech"
	"github.com/loqalabs/loqa-notes/internal/status"
)

// DefaultSilenceTimeout is how long after sound ends recognition is forced
// to stop.
const DefaultSilenceTimeout = 5 * time.Second

var (
	ErrNotIdle      = errors.New("recorder: already recording")
	ErrNotRecording = errors.New("recorder: not recording")
)

type State int

const (
	Idle State = iota
	Recording
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// stopReason records whether the user asked the engine to stop, so the end
// event can tell a deliberate stop from any other.
type stopReason int

const (
	stopNone stopReason = iota
	stopUser
)

// Draft receives recognized text.
type Draft interface {
	AppendTranscript(fragment string)
	ClearDraft()
}

// Controller mediates access to a speech engine. It implements
// speech.Handler; the engine's events drive the Recording -> Idle edge.
type Controller struct {
	engine     speech.Engine
	draft      Draft
	sink       status.Sink
	clock      clock.Clock
	silence    time.Duration
	continuous bool
	log        *slog.Logger
	available  bool

	mu          sync.Mutex
	state       State
	reason      stopReason
	sessionID   string
	watchdog    clock.Timer
	watchdogGen uint64

	sessions     metric.Int64Counter
	silenceStops metric.Int64Counter
}

type Option func(*Controller)

func WithClock(c clock.Clock) Option { return func(ctl *Controller) { ctl.clock = c } }

func WithSilenceTimeout(d time.Duration) Option {
	return func(ctl *Controller) {
		if d > 0 {
			ctl.silence = d
		}
	}
}

// WithContinuous controls whether the engine keeps listening across
// pauses in speech. Defaults to true.
func WithContinuous(continuous bool) Option {
	return func(ctl *Controller) { ctl.continuous = continuous }
}

func WithLogger(log *slog.Logger) Option { return func(ctl *Controller) { ctl.log = log } }

// New wires a controller to engine. When the engine is unavailable every
// control is inert and no status is posted.
func New(engine speech.Engine, draft Draft, sink status.Sink, opts ...Option) *Controller {
	c := &Controller{
		engine:     engine,
		draft:      draft,
		sink:       sink,
		clock:      clock.Real{},
		silence:    DefaultSilenceTimeout,
		continuous: true,
		log:        slog.Default(),
		available:  speech.Available(engine),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(slog.String("component", "recorder"))
	if !c.available {
		c.sink = status.Discard{}
		c.log.Info("speech recognition unavailable; recording controls disabled")
		return c
	}
	engine.SetContinuous(c.continuous)
	engine.SetHandler(c)

	meter := otel.Meter("github.com/loqalabs/loqa-notes/recorder")
	var err error
	if c.sessions, err = meter.Int64Counter("recorder.sessions", metric.WithDescription("Recording sessions started")); err != nil {
		c.log.Warn("failed to create metric", slogError(err))
	}
	if c.silenceStops, err = meter.Int64Counter("recorder.silence_stops", metric.WithDescription("Sessions stopped by the silence watchdog")); err != nil {
		c.log.Warn("failed to create metric", slogError(err))
	}
	return c
}

func (c *Controller) Available() bool { return c.available }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID identifies the current recording session; empty when idle.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Start begins a recording session. Only valid from Idle.
func (c *Controller) Start(ctx context.Context) error {
	if !c.available {
		return nil
	}
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return ErrNotIdle
	}
	c.cancelWatchdogLocked()
	// Engines never call back from Start, so holding the lock is safe and
	// keeps a concurrent Start out.
	if err := c.engine.Start(ctx); err != nil {
		c.mu.Unlock()
		c.log.Warn("engine start failed", slogError(err))
		return fmt.Errorf("start recognition: %w", err)
	}
	c.state = Recording
	c.sessionID = uuid.NewString()
	sessionID := c.sessionID
	c.mu.Unlock()

	if c.sessions != nil {
		c.sessions.Add(ctx, 1)
	}
	c.log.Info("recording started", slog.String("session", sessionID))
	c.sink.Post(status.RecordingStarted)
	return nil
}

// Pause is a user-initiated stop. Only valid from Recording.
func (c *Controller) Pause() error {
	if !c.available {
		return nil
	}
	c.mu.Lock()
	if c.state != Recording {
		c.mu.Unlock()
		return ErrNotRecording
	}
	c.reason = stopUser
	c.state = Idle
	c.cancelWatchdogLocked()
	c.mu.Unlock()

	if err := c.engine.Stop(); err != nil {
		c.log.Warn("engine stop failed", slogError(err))
	}
	c.sink.Post(status.RecordingPaused)
	return nil
}

// Reset stops recording if needed and discards the draft.
func (c *Controller) Reset() {
	if !c.available {
		return
	}
	c.mu.Lock()
	wasRecording := c.state == Recording
	if wasRecording {
		c.reason = stopUser
	}
	c.state = Idle
	c.cancelWatchdogLocked()
	c.mu.Unlock()

	if wasRecording {
		if err := c.engine.Stop(); err != nil {
			c.log.Warn("engine stop failed", slogError(err))
		}
	}
	c.draft.ClearDraft()
	c.sink.Post(status.RecordingReset)
}

// StopForSave ends an active session before its draft is saved. It reports
// whether a session was stopped.
func (c *Controller) StopForSave() bool {
	if !c.available {
		return false
	}
	c.mu.Lock()
	if c.state != Recording {
		c.mu.Unlock()
		return false
	}
	c.reason = stopUser
	c.state = Idle
	c.cancelWatchdogLocked()
	c.mu.Unlock()

	if err := c.engine.Stop(); err != nil {
		c.log.Warn("engine stop failed", slogError(err))
	}
	c.sink.Post(status.RecordingStopped)
	return true
}

// OnResult appends the transcript of the most recent result entry.
func (c *Controller) OnResult(r speech.Result) {
	fragment := r.Latest()
	if fragment == "" {
		return
	}
	c.draft.AppendTranscript(fragment)
}

// OnSoundEnd arms the silence watchdog, replacing any pending one.
func (c *Controller) OnSoundEnd() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Recording {
		return
	}
	c.cancelWatchdogLocked()
	gen := c.watchdogGen
	c.watchdog = c.clock.AfterFunc(c.silence, func() { c.silenceExpired(gen) })
}

func (c *Controller) silenceExpired(gen uint64) {
	c.mu.Lock()
	if gen != c.watchdogGen || c.watchdog == nil || c.state != Recording {
		c.mu.Unlock()
		return
	}
	c.watchdog = nil
	sessionID := c.sessionID
	c.mu.Unlock()

	// The stop is not the user's: the end event that follows reports the
	// voice as not recognized, replacing this message.
	c.log.Info("stopping recording after silence", slog.String("session", sessionID))
	if c.silenceStops != nil {
		c.silenceStops.Add(context.Background(), 1)
	}
	c.sink.Post(status.SilenceStop)
	if err := c.engine.Stop(); err != nil {
		c.log.Warn("engine stop failed", slogError(err))
	}
}

// OnEnd fires whenever the engine stops, for any reason.
func (c *Controller) OnEnd() {
	c.mu.Lock()
	c.cancelWatchdogLocked()
	wasRecording := c.state == Recording
	reason := c.reason
	c.reason = stopNone
	c.state = Idle
	c.sessionID = ""
	c.mu.Unlock()

	switch {
	case reason == stopUser:
		// Pause, reset and save post their own status.
	case wasRecording:
		c.log.Info("recognition ended without a user stop")
		c.sink.Post(status.NotRecognized)
	default:
		c.log.Debug("ignoring end event while idle")
	}
}

// cancelWatchdogLocked stops the pending watchdog and invalidates any
// callback already in flight.
func (c *Controller) cancelWatchdogLocked() {
	c.watchdogGen++
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
