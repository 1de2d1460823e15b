// Package status holds the one-line status readout shown to the user.
package status

import (
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-notes/internal/bus"
	"github.com/loqalabs/loqa-notes/internal/clock"
	"github.com/loqalabs/loqa-notes/internal/protocol"
)

const (
	RecordingStarted = "Recording started."
	RecordingPaused  = "Recording paused."
	RecordingReset   = "Recording reset."
	RecordingStopped = "Recording stopped."
	SilenceStop      = "Stopped recording due to silence."
	NotRecognized    = "Stopped recording: voice not recognized. Please try again."
	NoteSaved        = "Note saved."
	NoteEmpty        = "Note is empty and won't be saved."
	SaveFailed       = "Error: note could not be saved."
	StorageFull      = "Error: storage is full, note not saved."
	NoteDeleted      = "Note deleted."
	NoteDownloaded   = "Note downloaded."
	DownloadFailed   = "Error: note could not be downloaded."
	DeleteFailed     = "Error: note could not be deleted."
)

// Sink accepts status text.
type Sink interface {
	Post(text string)
}

// Discard drops everything; used when the recognizer is unavailable.
type Discard struct{}

func (Discard) Post(string) {}

// Snapshot is the status line as a surface should draw it.
type Snapshot struct {
	Text      string    `json:"text"`
	Sliding   bool      `json:"sliding"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Line is the status line. Every Post starts a slide animation lasting
// slide; a newer Post restarts it.
type Line struct {
	clock clock.Clock
	slide time.Duration
	bus   *bus.Client
	log   *slog.Logger

	mu      sync.Mutex
	current Snapshot
	gen     uint64
	timer   clock.Timer
	subs    map[int]func(Snapshot)
	nextSub int
}

type Option func(*Line)

func WithClock(c clock.Clock) Option { return func(l *Line) { l.clock = c } }

// WithBus mirrors every update onto protocol.SubjectStatus.
func WithBus(c *bus.Client) Option { return func(l *Line) { l.bus = c } }

func WithLogger(log *slog.Logger) Option { return func(l *Line) { l.log = log } }

func NewLine(slide time.Duration, opts ...Option) *Line {
	l := &Line{
		clock: clock.Real{},
		slide: slide,
		log:   slog.Default(),
		subs:  make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.With(slog.String("component", "status"))
	return l
}

func (l *Line) Post(text string) {
	l.mu.Lock()
	l.gen++
	gen := l.gen
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.current = Snapshot{Text: text, Sliding: l.slide > 0, UpdatedAt: l.clock.Now()}
	if l.slide > 0 {
		l.timer = l.clock.AfterFunc(l.slide, func() { l.endSlide(gen) })
	}
	snap := l.current
	subs := l.subscribers()
	l.mu.Unlock()

	l.log.Info("status", slog.String("text", text))
	l.notify(subs, snap)
	if l.bus != nil {
		msg := protocol.StatusUpdate{Text: text, Timestamp: snap.UpdatedAt.UTC()}
		if err := l.bus.PublishJSON(protocol.SubjectStatus, msg); err != nil {
			l.log.Warn("failed to publish status", slog.String("error", err.Error()))
		}
	}
}

func (l *Line) endSlide(gen uint64) {
	l.mu.Lock()
	if gen != l.gen || !l.current.Sliding {
		l.mu.Unlock()
		return
	}
	l.current.Sliding = false
	l.timer = nil
	snap := l.current
	subs := l.subscribers()
	l.mu.Unlock()
	l.notify(subs, snap)
}

func (l *Line) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Text is the current status text.
func (l *Line) Text() string {
	return l.Snapshot().Text
}

// Subscribe registers fn for every change, including the end of a slide.
// The returned func unregisters it.
func (l *Line) Subscribe(fn func(Snapshot)) func() {
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

func (l *Line) subscribers() []func(Snapshot) {
	out := make([]func(Snapshot), 0, len(l.subs))
	for _, fn := range l.subs {
		out = append(out, fn)
	}
	return out
}

func (l *Line) notify(subs []func(Snapshot), snap Snapshot) {
	for _, fn := range subs {
		fn(snap)
	}
}

// Recorder is a Sink that keeps every message, for tests and audit.
type Recorder struct {
	mu       sync.Mutex
	messages []string
}

func (r *Recorder) Post(text string) {
	r.mu.Lock()
	r.messages = append(r.messages, text)
	r.mu.Unlock()
}

func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

// Last returns the most recent message, or "".
func (r *Recorder) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return ""
	}
	return r.messages[len(r.messages)-1]
}

// Tee posts to every sink in order.
type Tee []Sink

func (t Tee) Post(text string) {
	for _, s := range t {
		s.Post(text)
	}
}
