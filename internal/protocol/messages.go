package protocol

import "time"

// Transcript is recognizer output for one dictation session.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

// SpeechControl asks a remote recognizer to start or stop capturing.
type SpeechControl struct {
	SessionID  string    `json:"session_id"`
	Op         string    `json:"op"` // start, stop
	Language   string    `json:"language,omitempty"`
	Continuous bool      `json:"continuous"`
	Timestamp  time.Time `json:"timestamp"`
}

// SpeechEvent reports recognizer lifecycle changes.
type SpeechEvent struct {
	SessionID string    `json:"session_id"`
	Type      string    `json:"type"` // soundend, end
	Timestamp time.Time `json:"timestamp"`
}

// TTSRequest asks a synthesizer to speak text.
type TTSRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Voice     string `json:"voice"`
	Target    string `json:"target,omitempty"`
}

// StatusUpdate mirrors the status line.
type StatusUpdate struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SpeechOpStart = "start"
	SpeechOpStop  = "stop"

	SpeechEventSoundEnd = "soundend"
	SpeechEventEnd      = "end"
)

const (
	SubjectTranscriptPartial   = "stt.text.partial"
	SubjectTranscriptFinal     = "stt.text.final"
	SubjectSpeechControlPrefix = "speech.control"
	SubjectSpeechEventPrefix   = "speech.event"
	SubjectTTSRequest          = "tts.request"
	SubjectStatus              = "notes.status"
)
