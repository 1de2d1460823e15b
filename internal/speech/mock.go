package speech

import (
	"context"
	"sync"
)

// Mock is an in-process engine whose events are synthesized by the caller.
// It is the default backend in development and the fake used in tests.
type Mock struct {
	mu         sync.Mutex
	handler    Handler
	running    bool
	continuous bool
	entries    []Entry
	starts     int
	stops      int

	// EndOnStop makes Stop deliver OnEnd synchronously, as a browser
	// recognizer eventually does.
	EndOnStop bool
	// StartErr, when set, is returned by the next Start.
	StartErr error
}

func NewMock() *Mock {
	return &Mock{EndOnStop: true}
}

func (m *Mock) SetHandler(h Handler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

func (m *Mock) SetContinuous(c bool) {
	m.mu.Lock()
	m.continuous = c
	m.mu.Unlock()
}

func (m *Mock) Continuous() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.continuous
}

func (m *Mock) Start(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StartErr != nil {
		err := m.StartErr
		m.StartErr = nil
		return err
	}
	if m.running {
		return ErrAlreadyStarted
	}
	m.running = true
	m.entries = nil
	m.starts++
	return nil
}

func (m *Mock) Stop() error {
	m.mu.Lock()
	m.stops++
	wasRunning := m.running
	m.running = false
	h := m.handler
	end := m.EndOnStop
	m.mu.Unlock()

	if wasRunning && end && h != nil {
		h.OnEnd()
	}
	return nil
}

// Running reports whether the engine is capturing.
func (m *Mock) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Starts and Stops count calls, for assertions.
func (m *Mock) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

func (m *Mock) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

// EmitResult appends a final entry with transcript and delivers the full
// result list.
func (m *Mock) EmitResult(transcript string) {
	m.mu.Lock()
	m.entries = append(m.entries, Entry{Alternatives: []Alternative{{Transcript: transcript, Confidence: 1}}, Final: true})
	res := Result{Entries: append([]Entry(nil), m.entries...)}
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h.OnResult(res)
	}
}

func (m *Mock) EmitSoundEnd() {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h.OnSoundEnd()
	}
}

// EmitEnd simulates the engine stopping on its own.
func (m *Mock) EmitEnd() {
	m.mu.Lock()
	m.running = false
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h.OnEnd()
	}
}
