package tts

import (
	"context"
	"time"
	"unicode/utf8"
)

// mockSynth produces silence whose length follows the text, 20ms per rune,
// in a single final chunk.
type mockSynth struct {
	sampleRate int
	channels   int
	delay      time.Duration
}

func NewMockSynth(sampleRate, channels int) Synthesizer {
	return &mockSynth{sampleRate: sampleRate, channels: channels, delay: 10 * time.Millisecond}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		case <-time.After(m.delay):
		}
		samples := utf8.RuneCountInString(req.Text) * m.sampleRate / 50
		chunks <- SynthChunk{
			ID:         req.ID,
			SampleRate: m.sampleRate,
			Channels:   m.channels,
			PCM:        make([]byte, samples*m.channels*2),
			Final:      true,
		}
	}()
	return chunks, errs
}
