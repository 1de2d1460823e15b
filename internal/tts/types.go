// Package tts reads notes aloud. A Speaker is fire-and-forget: Speak returns
// at once and playback happens in the background.
package tts

import "context"

// Speaker plays text as speech.
type Speaker interface {
	Speak(ctx context.Context, text string)
}

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	ID    string
	Text  string
	Voice string
}

// SynthChunk contains 16-bit little-endian PCM.
type SynthChunk struct {
	ID         string
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Final      bool
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

// Utterance is one synthesized note, ready to play.
type Utterance struct {
	ID         string
	Text       string
	SampleRate int
	Channels   int
	PCM        []byte
}

// Player renders an utterance.
type Player interface {
	Play(ctx context.Context, u Utterance) error
}
