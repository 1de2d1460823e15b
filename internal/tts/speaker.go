package tts

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const synthTimeout = 45 * time.Second

// SynthSpeaker synthesizes text and hands the audio to a Player, off the
// caller's goroutine.
type SynthSpeaker struct {
	synth  Synthesizer
	player Player
	voice  string
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSynthSpeaker(synth Synthesizer, player Player, voice string, log *slog.Logger) *SynthSpeaker {
	ctx, cancel := context.WithCancel(context.Background())
	return &SynthSpeaker{
		synth:  synth,
		player: player,
		voice:  voice,
		log:    log.With(slog.String("component", "tts-speaker")),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Speak returns immediately. Playback outlives ctx's cancellation but keeps
// its values; Close stops it.
func (s *SynthSpeaker) Speak(ctx context.Context, text string) {
	id := uuid.NewString()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.speak(context.WithoutCancel(ctx), id, text)
	}()
}

func (s *SynthSpeaker) speak(parent context.Context, id, text string) {
	ctx, cancel := context.WithTimeout(parent, synthTimeout)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	chunks, errs := s.synth.Synthesize(ctx, SynthRequest{ID: id, Text: text, Voice: s.voice})
	var pcm bytes.Buffer
	u := Utterance{ID: id, Text: text}
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			u.SampleRate, u.Channels = chunk.SampleRate, chunk.Channels
			pcm.Write(chunk.PCM)
		case err, ok := <-errs:
			if ok && err != nil {
				s.log.Warn("tts synthesis error", slogError(err), slog.String("utterance", id))
				return
			}
			errs = nil
		case <-ctx.Done():
			s.log.Warn("tts synthesis cancelled", slogError(ctx.Err()))
			return
		}
	}
	u.PCM = pcm.Bytes()
	if err := s.player.Play(ctx, u); err != nil {
		s.log.Warn("tts playback failed", slogError(err), slog.String("utterance", id))
		return
	}
	s.log.Debug("note spoken", slog.String("utterance", id), slog.Int("bytes", len(u.PCM)))
}

// Close cancels in-flight utterances and waits for them.
func (s *SynthSpeaker) Close() {
	s.cancel()
	s.wg.Wait()
}

// Wait blocks until every utterance started so far has finished.
func (s *SynthSpeaker) Wait() {
	s.wg.Wait()
}

// Recorder is a Speaker that remembers what it was asked to say.
type Recorder struct {
	mu    sync.Mutex
	texts []string
}

func (r *Recorder) Speak(_ context.Context, text string) {
	r.mu.Lock()
	r.texts = append(r.texts, text)
	r.mu.Unlock()
}

func (r *Recorder) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

// Silent drops every request; used when speech output is disabled.
type Silent struct{}

func (Silent) Speak(context.Context, string) {}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
