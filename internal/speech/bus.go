package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-notes/internal/bus"
	"github.com/loqalabs/loqa-notes/internal/protocol"
)

// Bus delegates recognition to a remote recognizer over NATS. Start and Stop
// publish protocol.SpeechControl on speech.control.<session>; transcripts
// arrive on stt.text.final and lifecycle events on speech.event.<session>.
type Bus struct {
	client   *bus.Client
	language string
	log      *slog.Logger

	mu         sync.Mutex
	handler    Handler
	continuous bool
	sessionID  string
	entries    []Entry
	subs       []*nats.Subscription
}

func NewBus(client *bus.Client, language string, log *slog.Logger) *Bus {
	return &Bus{
		client:   client,
		language: language,
		log:      log.With(slog.String("component", "speech-bus")),
	}
}

func (b *Bus) SetHandler(h Handler) {
	b.mu.Lock()
	b.handler = h
	b.mu.Unlock()
}

func (b *Bus) SetContinuous(c bool) {
	b.mu.Lock()
	b.continuous = c
	b.mu.Unlock()
}

// SessionID is the id of the active remote session, empty when idle.
func (b *Bus) SessionID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessionID
}

func (b *Bus) Start(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sessionID != "" {
		return ErrAlreadyStarted
	}

	sessionID := uuid.NewString()
	conn := b.client.Conn()
	transcripts, err := conn.Subscribe(protocol.SubjectTranscriptFinal, b.handleTranscript)
	if err != nil {
		return fmt.Errorf("subscribe transcripts: %w", err)
	}
	events, err := conn.Subscribe(protocol.SubjectSpeechEventPrefix+"."+sessionID, b.handleEvent)
	if err != nil {
		_ = transcripts.Unsubscribe()
		return fmt.Errorf("subscribe speech events: %w", err)
	}
	if err := conn.Flush(); err != nil {
		b.log.Warn("flush subscriptions failed", slogError(err))
	}

	ctrl := protocol.SpeechControl{
		SessionID:  sessionID,
		Op:         protocol.SpeechOpStart,
		Language:   b.language,
		Continuous: b.continuous,
		Timestamp:  time.Now().UTC(),
	}
	if err := b.client.PublishJSON(protocol.SubjectSpeechControlPrefix+"."+sessionID, ctrl); err != nil {
		_ = transcripts.Unsubscribe()
		_ = events.Unsubscribe()
		return fmt.Errorf("publish speech start: %w", err)
	}

	b.sessionID = sessionID
	b.entries = nil
	b.subs = []*nats.Subscription{transcripts, events}
	return nil
}

// Stop asks the remote recognizer to stop; it answers with an end event.
func (b *Bus) Stop() error {
	b.mu.Lock()
	sessionID := b.sessionID
	b.mu.Unlock()
	if sessionID == "" {
		return nil
	}
	ctrl := protocol.SpeechControl{SessionID: sessionID, Op: protocol.SpeechOpStop, Timestamp: time.Now().UTC()}
	if err := b.client.PublishJSON(protocol.SubjectSpeechControlPrefix+"."+sessionID, ctrl); err != nil {
		return fmt.Errorf("publish speech stop: %w", err)
	}
	return nil
}

func (b *Bus) handleTranscript(msg *nats.Msg) {
	var t protocol.Transcript
	if err := json.Unmarshal(msg.Data, &t); err != nil {
		b.log.Warn("failed to decode transcript", slogError(err))
		return
	}
	b.mu.Lock()
	if t.SessionID != b.sessionID || t.Text == "" {
		b.mu.Unlock()
		return
	}
	b.entries = append(b.entries, Entry{
		Alternatives: []Alternative{{Transcript: t.Text, Confidence: t.Confidence}},
		Final:        !t.Partial,
	})
	res := Result{Entries: append([]Entry(nil), b.entries...)}
	h := b.handler
	b.mu.Unlock()

	if h != nil {
		h.OnResult(res)
	}
}

func (b *Bus) handleEvent(msg *nats.Msg) {
	var evt protocol.SpeechEvent
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		b.log.Warn("failed to decode speech event", slogError(err))
		return
	}
	switch evt.Type {
	case protocol.SpeechEventSoundEnd:
		if h := b.currentHandler(); h != nil {
			h.OnSoundEnd()
		}
	case protocol.SpeechEventEnd:
		b.mu.Lock()
		if evt.SessionID != b.sessionID {
			b.mu.Unlock()
			return
		}
		subs := b.subs
		b.subs = nil
		b.sessionID = ""
		h := b.handler
		b.mu.Unlock()
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
		if h != nil {
			h.OnEnd()
		}
	}
}

func (b *Bus) currentHandler() Handler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handler
}
