// Package speech abstracts the speech capture capability: something that can
// be started and stopped and reports recognized text and lifecycle changes
// through a Handler.
package speech

import (
	"context"
	"errors"
)

var (
	ErrUnavailable    = errors.New("speech recognition unavailable")
	ErrAlreadyStarted = errors.New("speech recognition already started")
)

// Alternative is one candidate transcription of an utterance.
type Alternative struct {
	Transcript string
	Confidence float64
}

// Entry is one recognized utterance.
type Entry struct {
	Alternatives []Alternative
	Final        bool
}

// Result carries every entry recognized so far in the current session.
type Result struct {
	Entries []Entry
}

// Latest is the best transcript of the most recent entry.
func (r Result) Latest() string {
	if len(r.Entries) == 0 {
		return ""
	}
	alts := r.Entries[len(r.Entries)-1].Alternatives
	if len(alts) == 0 {
		return ""
	}
	return alts[0].Transcript
}

// Handler receives engine events. Implementations must tolerate calls from
// any goroutine, including from inside Engine.Stop.
type Handler interface {
	OnResult(Result)
	OnSoundEnd()
	OnEnd()
}

// Engine is a speech recognizer.
type Engine interface {
	Start(ctx context.Context) error
	Stop() error
	SetContinuous(bool)
	SetHandler(Handler)
}

// Unavailable stands in when the host has no recognizer.
type Unavailable struct{}

func (Unavailable) Start(context.Context) error { return ErrUnavailable }
func (Unavailable) Stop() error                 { return ErrUnavailable }
func (Unavailable) SetContinuous(bool)          {}
func (Unavailable) SetHandler(Handler)          {}

// Available reports whether e can actually recognize speech.
func Available(e Engine) bool {
	if e == nil {
		return false
	}
	switch e.(type) {
	case Unavailable, *Unavailable:
		return false
	}
	return true
}
