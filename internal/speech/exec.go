package speech

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

// Exec drives an external recognizer process. The process captures audio
// itself and writes one JSON event per line to stdout:
//
//	{"type":"result","transcript":"buy milk","confidence":0.93,"final":true}
//	{"type":"soundend"}
//
// Process exit is reported as OnEnd.
type Exec struct {
	cmd      []string
	language string
	log      *slog.Logger

	mu         sync.Mutex
	handler    Handler
	continuous bool
	cancel     context.CancelFunc
	running    bool
}

type execEvent struct {
	Type       string  `json:"type"`
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	Final      bool    `json:"final"`
}

func NewExec(command, language string, log *slog.Logger) (*Exec, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse speech command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("speech command is empty")
	}
	return &Exec{
		cmd:      args,
		language: language,
		log:      log.With(slog.String("component", "speech-exec")),
	}, nil
}

func (e *Exec) SetHandler(h Handler) {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
}

func (e *Exec) SetContinuous(c bool) {
	e.mu.Lock()
	e.continuous = c
	e.mu.Unlock()
}

func (e *Exec) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrAlreadyStarted
	}

	args := append([]string{}, e.cmd[1:]...)
	if e.language != "" {
		args = append(args, "--language", e.language)
	}
	if e.continuous {
		args = append(args, "--continuous")
	}

	// The process outlives the request that started it; only Stop ends it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	command := exec.CommandContext(runCtx, e.cmd[0], args...)
	stdout, err := command.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("speech stdout: %w", err)
	}
	if err := command.Start(); err != nil {
		cancel()
		return fmt.Errorf("start speech command: %w", err)
	}
	e.cancel = cancel
	e.running = true

	go e.run(command, stdout, cancel)
	return nil
}

func (e *Exec) run(command *exec.Cmd, stdout io.Reader, cancel context.CancelFunc) {
	var entries []Entry
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var evt execEvent
		if err := json.Unmarshal(line, &evt); err != nil {
			e.log.Warn("invalid recognizer event", slogError(err))
			continue
		}
		h := e.currentHandler()
		switch evt.Type {
		case "result":
			entries = append(entries, Entry{
				Alternatives: []Alternative{{Transcript: evt.Transcript, Confidence: evt.Confidence}},
				Final:        evt.Final,
			})
			if h != nil {
				h.OnResult(Result{Entries: append([]Entry(nil), entries...)})
			}
			if evt.Final && !e.isContinuous() {
				cancel()
			}
		case "soundend":
			if h != nil {
				h.OnSoundEnd()
			}
		default:
			e.log.Debug("ignoring recognizer event", slog.String("type", evt.Type))
		}
	}
	if err := command.Wait(); err != nil {
		e.log.Debug("recognizer exited", slogError(err))
	}
	cancel()

	e.mu.Lock()
	e.running = false
	e.cancel = nil
	h := e.handler
	e.mu.Unlock()
	if h != nil {
		h.OnEnd()
	}
}

// Stop terminates the recognizer; OnEnd follows once the process exits.
func (e *Exec) Stop() error {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (e *Exec) currentHandler() Handler {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handler
}

func (e *Exec) isContinuous() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.continuous
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
