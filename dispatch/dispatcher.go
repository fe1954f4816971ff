// Package dispatch correlates concurrently in-flight JSON-RPC requests
// with their responses over a single shared transport.
//
// A Dispatcher is the sole reader and writer of the raw stream once
// constructed. Callers may pipeline any number of Call invocations
// before a single response has arrived; a dedicated reader goroutine
// drains the transport for the dispatcher's whole lifetime, so a child
// process that buffers several responses can never deadlock the pipe.
// Responses are matched purely by request id, never by arrival order.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/klaviyo/incidentio-mcp/internal/jsonrpc"
	"github.com/klaviyo/incidentio-mcp/internal/logctx"
	"github.com/klaviyo/incidentio-mcp/session"
)

var (
	// ErrConnectionClosed indicates the session terminated while requests
	// were outstanding. Every pending call resolves with this kind.
	ErrConnectionClosed = session.ErrConnectionClosed
	// ErrRequestTimeout indicates no response arrived within the
	// caller's deadline. The dispatcher never retries; a late response
	// for the id is discarded and logged.
	ErrRequestTimeout = errors.New("request timed out")
)

type pendingCall struct {
	respCh chan *jsonrpc.Response
	errCh  chan error
}

// Dispatcher owns request id allocation, the pending table, and the
// reader loop for one transport.
type Dispatcher struct {
	t   session.Transport
	enc *jsonrpc.Encoder
	dec *jsonrpc.Decoder
	log *slog.Logger

	// writeMu serializes whole-line writes so pipelined callers cannot
	// interleave frames.
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]*pendingCall

	nextID atomic.Uint64

	closed   atomic.Bool
	closeErr error

	readerDone chan struct{}
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithLogger overrides the logger used for diagnostics (decode
// failures, unmatched ids). These never abort the reader loop.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// New constructs a Dispatcher over t and starts its reader loop.
func New(t session.Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		t:          t,
		enc:        jsonrpc.NewEncoder(t),
		dec:        jsonrpc.NewDecoder(t),
		log:        slog.New(slog.DiscardHandler),
		pending:    make(map[string]*pendingCall),
		readerDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	go d.readLoop()
	return d
}

// Call sends a JSON-RPC request and waits for the matching response.
// The id is unique for the dispatcher's lifetime and never reused. Use
// a context deadline for a per-request timeout; expiry yields
// ErrRequestTimeout and abandons only this call's pending entry.
func (d *Dispatcher) Call(ctx context.Context, method string, params any) (*jsonrpc.Response, error) {
	if d.closed.Load() {
		return nil, d.closedErr()
	}

	id := jsonrpc.NewRequestID(d.nextID.Add(1))
	key := id.String()

	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	pc := &pendingCall{
		respCh: make(chan *jsonrpc.Response, 1),
		errCh:  make(chan error, 1),
	}
	d.mu.Lock()
	if d.closed.Load() {
		d.mu.Unlock()
		return nil, d.closedErr()
	}
	d.pending[key] = pc
	d.mu.Unlock()

	if err := d.write(req); err != nil {
		d.removePending(key)
		return nil, err
	}

	select {
	case resp := <-pc.respCh:
		return resp, nil
	case err := <-pc.errCh:
		return nil, err
	case <-ctx.Done():
		d.removePending(key)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s (id %s)", ErrRequestTimeout, method, key)
		}
		return nil, ctx.Err()
	}
}

// Notify sends a JSON-RPC notification (no id, no response expected).
func (d *Dispatcher) Notify(ctx context.Context, method string, params any) error {
	if d.closed.Load() {
		return d.closedErr()
	}
	req, err := jsonrpc.NewRequest(nil, method, params)
	if err != nil {
		return err
	}
	return d.write(req)
}

// Close resolves every still-pending call with cause (defaulting to
// ErrConnectionClosed) and rejects new calls. It is idempotent; later
// causes are ignored.
func (d *Dispatcher) Close(cause error) {
	if !d.closed.CompareAndSwap(false, true) {
		return
	}
	if cause == nil {
		cause = ErrConnectionClosed
	}
	d.closeErr = cause

	d.mu.Lock()
	defer d.mu.Unlock()
	for key, pc := range d.pending {
		delete(d.pending, key)
		pc.errCh <- cause
	}
}

// Done is closed once the reader loop has exited.
func (d *Dispatcher) Done() <-chan struct{} { return d.readerDone }

func (d *Dispatcher) closedErr() error {
	if d.closeErr != nil {
		return d.closeErr
	}
	return ErrConnectionClosed
}

func (d *Dispatcher) write(req *jsonrpc.Request) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.enc.Encode(req)
}

func (d *Dispatcher) removePending(key string) {
	d.mu.Lock()
	delete(d.pending, key)
	d.mu.Unlock()
}

// readLoop continuously drains the transport, resolving responses
// against the pending table. Untargeted conditions (malformed lines,
// unmatched or absent ids, server-initiated traffic) are logged and
// skipped; only stream termination stops the loop.
func (d *Dispatcher) readLoop() {
	defer close(d.readerDone)
	ctx := context.Background()

	for {
		msg, err := d.dec.Next()
		if err != nil {
			var de *jsonrpc.DecodeError
			if errors.As(err, &de) {
				d.log.WarnContext(ctx, "discarding malformed line", slog.String("line", de.Line), slog.String("err", de.Err.Error()))
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, ErrConnectionClosed) {
				d.Close(ErrConnectionClosed)
			} else {
				d.Close(fmt.Errorf("%w: %v", ErrConnectionClosed, err))
			}
			return
		}

		if !msg.IsResponse() {
			// Server-initiated request or notification; this harness has
			// no server-facing capabilities to route it to.
			d.log.DebugContext(ctx, "ignoring server-initiated message", slog.String("method", msg.Method))
			continue
		}

		resp := msg.AsResponse()
		if resp.ID.IsNil() {
			d.log.WarnContext(ctx, "discarding response without id")
			continue
		}

		key := resp.ID.String()
		msgCtx := logctx.WithRPCMessage(ctx, &logctx.RPCMessage{ID: key})

		d.mu.Lock()
		pc, ok := d.pending[key]
		if ok {
			delete(d.pending, key)
		}
		d.mu.Unlock()

		if !ok {
			// Either a duplicate or a response whose caller already timed
			// out; both are diagnostics, not loop failures.
			d.log.WarnContext(msgCtx, "discarding unmatched response")
			continue
		}
		pc.respCh <- resp
	}
}
