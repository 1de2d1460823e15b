package tts

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/loqalabs/loqa-notes/internal/bus"
	"github.com/loqalabs/loqa-notes/internal/protocol"
)

// BusSpeaker hands text to a remote synthesizer by publishing
// protocol.TTSRequest on tts.request.
type BusSpeaker struct {
	client *bus.Client
	voice  string
	target string
	log    *slog.Logger
}

func NewBusSpeaker(client *bus.Client, voice, target string, log *slog.Logger) *BusSpeaker {
	return &BusSpeaker{
		client: client,
		voice:  voice,
		target: target,
		log:    log.With(slog.String("component", "tts-bus")),
	}
}

func (b *BusSpeaker) Speak(_ context.Context, text string) {
	req := protocol.TTSRequest{
		SessionID: uuid.NewString(),
		Text:      text,
		Voice:     b.voice,
		Target:    b.target,
	}
	if err := b.client.PublishJSON(protocol.SubjectTTSRequest, req); err != nil {
		b.log.Warn("failed to publish tts request", slogError(err))
	}
}
