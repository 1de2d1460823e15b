package recorder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-notes/internal/clock"
	"github.com/loqalabs/loqa-notes/internal/speech"
	"github.com/loqalabs/loqa-notes/internal/status"
)

type fakeDraft struct {
	mu   sync.Mutex
	text string
}

func (d *fakeDraft) AppendTranscript(fragment string) {
	d.mu.Lock()
	d.text += fragment
	d.mu.Unlock()
}

func (d *fakeDraft) ClearDraft() {
	d.mu.Lock()
	d.text = ""
	d.mu.Unlock()
}

func (d *fakeDraft) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text
}

type harness struct {
	ctl    *Controller
	engine *speech.Mock
	draft  *fakeDraft
	sink   *status.Recorder
	clock  *clock.Fake
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		engine: speech.NewMock(),
		draft:  &fakeDraft{},
		sink:   &status.Recorder{},
		clock:  clock.NewFake(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)),
	}
	h.ctl = New(h.engine, h.draft, h.sink,
		WithClock(h.clock),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return h
}

func TestNewConfiguresEngine(t *testing.T) {
	h := newHarness(t)
	assert.True(t, h.ctl.Available())
	assert.True(t, h.engine.Continuous())
	assert.Equal(t, Idle, h.ctl.State())
	assert.Equal(t, "idle", h.ctl.State().String())
}

func TestStartPause(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.ctl.Start(ctx))
	assert.Equal(t, Recording, h.ctl.State())
	assert.NotEmpty(t, h.ctl.SessionID())
	assert.True(t, h.engine.Running())
	assert.ErrorIs(t, h.ctl.Start(ctx), ErrNotIdle)

	require.NoError(t, h.ctl.Pause())
	assert.Equal(t, Idle, h.ctl.State())
	assert.Empty(t, h.ctl.SessionID())
	assert.ErrorIs(t, h.ctl.Pause(), ErrNotRecording)

	assert.Equal(t, []string{status.RecordingStarted, status.RecordingPaused}, h.sink.Messages())
}

func TestResultsAppendLatestFragment(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctl.Start(context.Background()))

	h.engine.EmitResult("buy")
	h.engine.EmitResult(" milk")
	assert.Equal(t, "buy milk", h.draft.String())
}

func TestSilenceWatchdogStopsRecording(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctl.Start(context.Background()))

	h.engine.EmitSoundEnd()
	h.clock.Advance(DefaultSilenceTimeout - time.Millisecond)
	assert.Equal(t, Recording, h.ctl.State())

	h.clock.Advance(time.Millisecond)
	assert.Equal(t, Idle, h.ctl.State())
	assert.Equal(t, 1, h.engine.Stops())
	assert.Equal(t, []string{status.RecordingStarted, status.SilenceStop, status.NotRecognized}, h.sink.Messages())
}

func TestSilenceStopWithDeferredEnd(t *testing.T) {
	h := newHarness(t)
	h.engine.EndOnStop = false
	require.NoError(t, h.ctl.Start(context.Background()))

	h.engine.EmitSoundEnd()
	h.clock.Advance(DefaultSilenceTimeout)
	assert.Equal(t, Recording, h.ctl.State())
	assert.Equal(t, status.SilenceStop, h.sink.Last())

	h.engine.EmitEnd()
	assert.Equal(t, Idle, h.ctl.State())
	assert.Equal(t, []string{status.RecordingStarted, status.SilenceStop, status.NotRecognized}, h.sink.Messages())
}

func TestPauseAfterSilenceStopKeepsUserMessage(t *testing.T) {
	h := newHarness(t)
	h.engine.EndOnStop = false
	require.NoError(t, h.ctl.Start(context.Background()))

	h.engine.EmitSoundEnd()
	h.clock.Advance(DefaultSilenceTimeout)
	require.NoError(t, h.ctl.Pause())
	h.engine.EmitEnd()

	assert.Equal(t, Idle, h.ctl.State())
	assert.Equal(t, status.RecordingPaused, h.sink.Last())
	assert.NotContains(t, h.sink.Messages(), status.NotRecognized)
}

func TestLaterSoundEndReplacesWatchdog(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctl.Start(context.Background()))

	h.engine.EmitSoundEnd()
	h.clock.Advance(3 * time.Second)
	h.engine.EmitSoundEnd()
	h.clock.Advance(3 * time.Second)
	assert.Equal(t, Recording, h.ctl.State(), "first watchdog must have been replaced")
	assert.Equal(t, 1, h.clock.Pending())

	h.clock.Advance(2 * time.Second)
	assert.Equal(t, Idle, h.ctl.State())
}

func TestPauseCancelsWatchdog(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctl.Start(context.Background()))

	h.engine.EmitSoundEnd()
	h.clock.Advance(2 * time.Second)
	require.NoError(t, h.ctl.Pause())
	h.clock.Advance(10 * time.Second)

	assert.Equal(t, status.RecordingPaused, h.sink.Last())
	assert.NotContains(t, h.sink.Messages(), status.SilenceStop)
	assert.Equal(t, 1, h.engine.Stops())
}

func TestWatchdogDoesNotCrossSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctl.Start(ctx))

	h.engine.EmitSoundEnd()
	h.clock.Advance(time.Second)
	require.NoError(t, h.ctl.Pause())
	h.clock.Advance(time.Second)
	require.NoError(t, h.ctl.Start(ctx))
	h.clock.Advance(10 * time.Second)

	assert.Equal(t, Recording, h.ctl.State())
	assert.Equal(t, 1, h.engine.Stops())
	assert.Equal(t, status.RecordingStarted, h.sink.Last())
}

func TestUnexpectedEndReportsNotRecognized(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctl.Start(context.Background()))

	h.engine.EmitEnd()
	assert.Equal(t, Idle, h.ctl.State())
	assert.Equal(t, status.NotRecognized, h.sink.Last())

	// A second end while idle is ignored.
	h.engine.EmitEnd()
	assert.Len(t, h.sink.Messages(), 2)
}

func TestResetClearsDraft(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctl.Start(context.Background()))
	h.engine.EmitResult("scratch that")

	h.ctl.Reset()
	assert.Equal(t, Idle, h.ctl.State())
	assert.Empty(t, h.draft.String())
	assert.Equal(t, 1, h.engine.Stops())
	assert.Equal(t, status.RecordingReset, h.sink.Last())

	h.draft.AppendTranscript("typed")
	h.ctl.Reset()
	assert.Empty(t, h.draft.String())
	assert.Equal(t, 1, h.engine.Stops(), "reset while idle must not touch the engine")
}

func TestStopForSave(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.ctl.StopForSave())
	assert.Empty(t, h.sink.Messages())

	require.NoError(t, h.ctl.Start(context.Background()))
	assert.True(t, h.ctl.StopForSave())
	assert.Equal(t, Idle, h.ctl.State())
	assert.Equal(t, status.RecordingStopped, h.sink.Last())
	assert.NotContains(t, h.sink.Messages(), status.NotRecognized)
}

func TestStartFailureStaysIdle(t *testing.T) {
	h := newHarness(t)
	h.engine.StartErr = errors.New("microphone busy")

	err := h.ctl.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "microphone busy")
	assert.Equal(t, Idle, h.ctl.State())
	assert.Empty(t, h.sink.Messages())

	require.NoError(t, h.ctl.Start(context.Background()))
	assert.Equal(t, Recording, h.ctl.State())
}

func TestUnavailableEngineIsInert(t *testing.T) {
	draft := &fakeDraft{text: "keep me"}
	sink := &status.Recorder{}
	ctl := New(speech.Unavailable{}, draft, sink)

	assert.False(t, ctl.Available())
	require.NoError(t, ctl.Start(context.Background()))
	require.NoError(t, ctl.Pause())
	ctl.Reset()
	assert.False(t, ctl.StopForSave())

	assert.Equal(t, Idle, ctl.State())
	assert.Equal(t, "keep me", draft.String())
	assert.Empty(t, sink.Messages())
}

func TestSoundEndWhileIdleIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.engine.EmitSoundEnd()
	assert.Zero(t, h.clock.Pending())
}

// TestStateFollowsLastTransition runs every sequence of up to five controls
// and engine end events and checks the controller is Recording exactly when
// the last effective transition was a start with no end since.
func TestStateFollowsLastTransition(t *testing.T) {
	ops := []string{"start", "pause", "reset", "end"}

	var sequences [][]string
	var grow func(prefix []string)
	grow = func(prefix []string) {
		sequences = append(sequences, prefix)
		if len(prefix) == 5 {
			return
		}
		for _, op := range ops {
			grow(append(append([]string(nil), prefix...), op))
		}
	}
	grow(nil)

	for _, endOnStop := range []bool{true, false} {
		for _, seq := range sequences {
			h := newHarness(t)
			h.engine.EndOnStop = endOnStop
			recording := false
			for _, op := range seq {
				switch op {
				case "start":
					err := h.ctl.Start(context.Background())
					if recording {
						require.ErrorIs(t, err, ErrNotIdle)
					} else {
						require.NoError(t, err)
					}
					recording = true
				case "pause":
					err := h.ctl.Pause()
					if !recording {
						require.ErrorIs(t, err, ErrNotRecording)
					}
					recording = false
				case "reset":
					h.ctl.Reset()
					recording = false
				case "end":
					h.engine.EmitEnd()
					recording = false
				}
			}
			want := Idle
			if recording {
				want = Recording
			}
			assert.Equal(t, want, h.ctl.State(), "endOnStop=%v sequence=%v", endOnStop, seq)
		}
	}
}
