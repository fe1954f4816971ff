package session

import (
	"errors"
	"io"
	"io/fs"
	"syscall"
)

// Transport is a duplex byte stream to a process-like endpoint: writes
// are delivered to its input, reads drain its output. Implementations
// are not required to be safe for concurrent writers; the dispatcher
// that owns a transport serializes access on each side.
type Transport interface {
	io.Reader
	io.Writer
}

type transport struct {
	s *Session
}

func (t *transport) Write(p []byte) (int, error) {
	if t.s.terminated() {
		return 0, ErrConnectionClosed
	}
	n, err := t.s.stdin.Write(p)
	if err != nil {
		return n, coerceClosed(err)
	}
	return n, nil
}

func (t *transport) Read(p []byte) (int, error) {
	if t.s.terminated() {
		return 0, ErrConnectionClosed
	}
	n, err := t.s.stdout.Read(p)
	if err != nil && err != io.EOF {
		return n, coerceClosed(err)
	}
	return n, err
}

// coerceClosed maps pipe-teardown errors onto ErrConnectionClosed so
// callers observe one kind regardless of how the OS reported it.
func coerceClosed(err error) error {
	if errors.Is(err, fs.ErrClosed) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, syscall.EPIPE) {
		return ErrConnectionClosed
	}
	return err
}
