package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/klaviyo/incidentio-mcp/internal/logctx"
)

type state int

const (
	stateCreated state = iota
	stateRunning
	stateClosing
	stateTerminated
)

const defaultGracePeriod = 3 * time.Second

// Session owns one child process and its pipes. Use New followed by
// Start; the zero value is not usable.
type Session struct {
	id      string
	command string
	args    []string
	env     map[string]string
	grace   time.Duration
	log     *slog.Logger

	mu             sync.Mutex
	st             state
	cmd            *exec.Cmd
	stdin          io.WriteCloser
	stdout         io.ReadCloser
	transportTaken bool

	stderr lockedBuffer

	// logCtx carries session attributes for logctx-aware handlers.
	logCtx context.Context
}

// New prepares a session for the given command. The process is not
// started until Start is called.
func New(command string, args []string, opts ...Option) *Session {
	s := &Session{
		id:      uuid.NewString(),
		command: command,
		args:    args,
		env:     make(map[string]string),
		grace:   defaultGracePeriod,
		log:     slog.New(slog.DiscardHandler),
		logCtx:  context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session's correlation id.
func (s *Session) ID() string { return s.id }

// Start spawns the child process with private stdin/stdout/stderr
// pipes. Cancelling ctx kills the process, so a session scoped to a
// test or request context is released even if Close is never called.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.st != stateCreated {
		return fmt.Errorf("%w: session already started", ErrInvalidState)
	}

	cmd := exec.CommandContext(ctx, s.command, s.args...)
	cmd.Env = os.Environ()
	for k, v := range s.env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stderr = &s.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &SpawnError{Command: s.command, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &SpawnError{Command: s.command, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return &SpawnError{Command: s.command, Err: err}
	}

	s.cmd = cmd
	s.stdin = stdin
	s.stdout = stdout
	s.st = stateRunning
	s.logCtx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: s.id,
		Command:   s.command,
	})

	s.log.InfoContext(s.logCtx, "session started", slog.Int("pid", cmd.Process.Pid))
	return nil
}

// Transport returns the session's duplex byte stream view: writes go to
// the child's stdin, reads come from its stdout. It may be taken
// exactly once, and only while the session is running; the caller (one
// dispatcher) becomes the sole reader and writer of the raw stream.
func (s *Session) Transport() (Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.st != stateRunning {
		return nil, fmt.Errorf("%w: transport requires a running session", ErrInvalidState)
	}
	if s.transportTaken {
		return nil, fmt.Errorf("%w: transport already taken", ErrInvalidState)
	}
	s.transportTaken = true
	return &transport{s: s}, nil
}

// StderrText returns the child's accumulated standard error output. It
// never blocks the protocol path and may be called in any state.
func (s *Session) StderrText() string {
	return s.stderr.String()
}

// Close signals end-of-input by closing the child's stdin, waits up to
// the grace period for a voluntary exit, then kills the process. It is
// idempotent and always releases the process on return.
func (s *Session) Close() error {
	s.mu.Lock()
	switch s.st {
	case stateTerminated, stateClosing:
		s.mu.Unlock()
		return nil
	case stateCreated:
		s.st = stateTerminated
		s.mu.Unlock()
		return nil
	}
	s.st = stateClosing
	cmd := s.cmd
	stdin := s.stdin
	s.mu.Unlock()

	_ = stdin.Close()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(s.grace)
	defer timer.Stop()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-timer.C:
		s.log.WarnContext(s.logCtx, "grace period elapsed, killing process")
		_ = cmd.Process.Kill()
		waitErr = <-done
	}

	s.mu.Lock()
	s.st = stateTerminated
	s.mu.Unlock()

	if waitErr != nil {
		s.log.InfoContext(s.logCtx, "session terminated", slog.String("wait", waitErr.Error()))
	} else {
		s.log.InfoContext(s.logCtx, "session terminated")
	}
	return nil
}

// terminated reports whether the session has reached a state in which
// transport operations must fail.
func (s *Session) terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st == stateTerminated
}

// lockedBuffer is a goroutine-safe bytes.Buffer used to accumulate the
// child's stderr while the process writes to it concurrently.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
