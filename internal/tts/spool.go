package tts

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// SpoolPlayer writes each utterance to a WAV file for an external audio
// sink to pick up.
type SpoolPlayer struct {
	dir string
	log *slog.Logger
	now func() time.Time
}

func NewSpoolPlayer(dir string, log *slog.Logger) (*SpoolPlayer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	return &SpoolPlayer{dir: dir, log: log.With(slog.String("component", "tts-spool")), now: time.Now}, nil
}

func (p *SpoolPlayer) Dir() string { return p.dir }

func (p *SpoolPlayer) Play(ctx context.Context, u Utterance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name := fmt.Sprintf("%s-%s.wav", p.now().UTC().Format("20060102T150405.000"), u.ID)
	path := filepath.Join(p.dir, name)
	tmp := path + ".part"

	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create spool file: %w", err)
	}
	if err := writePCMToWav(file, u.PCM, u.SampleRate, u.Channels); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close spool file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("publish spool file: %w", err)
	}
	p.log.Info("utterance spooled", slog.String("path", path))
	return nil
}

func writePCMToWav(file *os.File, pcm []byte, sampleRate int, channels int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	if sampleRate <= 0 || channels <= 0 {
		return fmt.Errorf("invalid audio format: %d Hz, %d channels", sampleRate, channels)
	}
	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate}, SourceBitDepth: 16}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
