// Package rpc multiplexes many logical request/response pairs over the one
// authenticated transport.
//
// Each dispatched request gets a unique monotonically increasing id, and a
// single background goroutine (readLoop) routes every inbound response to
// the caller awaiting that id:
//
//	goroutine-1 ──Dispatch(id=1)──┐
//	goroutine-2 ──Dispatch(id=2)──┼──→ one ws conn ──→ node
//	goroutine-3 ──Dispatch(id=3)──┘
//
//	readLoop: ←── response(id=2) → pending[2] → goroutine-2 wakes up
//
// Responses may arrive in any order; correctness depends only on id
// matching. An id is registered in the pending table before the send that
// created it completes, so the read loop can never see a response for an
// id it does not know about — unless that id was retired by timeout or
// cancellation, in which case the late response is logged as orphaned and
// discarded.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"node-probe/codec"
	"node-probe/protocol"
	"node-probe/transport"
)

var (
	// ErrRequestTimeout reports a call whose response did not arrive within
	// the bounded wait. The id is retired; a late response becomes an
	// orphan.
	ErrRequestTimeout = errors.New("request timeout")

	// ErrCancelled reports a call resolved by run cancellation or
	// connection shutdown rather than by a response.
	ErrCancelled = errors.New("call cancelled")
)

// Call is one outstanding request. It is created by Dispatch and resolved
// exactly once: by a matching response, a timeout, or cancellation.
type Call struct {
	ID     uint64
	Method string
	SentAt time.Time
	done   chan callResult // Buffered so the read loop never blocks on delivery
}

type callResult struct {
	payload json.RawMessage
	err     error
}

// Correlator assigns ids to outgoing requests, tracks outstanding ones, and
// matches inbound responses to the waiting caller.
type Correlator struct {
	tr      *transport.Transport
	codec   codec.Codec
	logger  zerolog.Logger
	timeout time.Duration

	mu        sync.Mutex
	nextID    uint64
	pending   map[uint64]*Call
	delivered map[uint64]struct{} // Ids resolved by a response; a second response for one of these is a duplicate, not an orphan
	closed    bool

	done chan struct{} // Closed when the read loop exits
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithLogger attaches a structured logger. Default is a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Correlator) {
		c.logger = logger
	}
}

// WithRequestTimeout sets the per-request bounded wait. Each pending
// request gets its own timer; the default is 30 seconds.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Correlator) {
		c.timeout = d
	}
}

// NewCorrelator starts a correlator on the given transport. The caller must
// only hand over an authenticated transport; the correlator takes over its
// inbound frame sequence.
func NewCorrelator(tr *transport.Transport, opts ...Option) *Correlator {
	c := &Correlator{
		tr:        tr,
		codec:     codec.Default(),
		logger:    zerolog.Nop(),
		timeout:   30 * time.Second,
		pending:   make(map[uint64]*Call),
		delivered: make(map[uint64]struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.readLoop()
	return c
}

// Dispatch allocates the next id, registers the pending request, and sends
// the envelope. Registration happens before the send so the id is visible
// to the read loop before a response could plausibly arrive.
func (c *Correlator) Dispatch(method string, params []any) (*Call, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("dispatch %s: %w", method, ErrCancelled)
	}
	c.nextID++
	call := &Call{
		ID:     c.nextID,
		Method: method,
		SentAt: time.Now(),
		done:   make(chan callResult, 1),
	}
	c.pending[call.ID] = call
	c.mu.Unlock()

	payload, err := c.codec.Encode(protocol.NewRequest(call.ID, method, params))
	if err != nil {
		c.retire(call.ID)
		return nil, fmt.Errorf("encode request: %w", err)
	}
	if err := c.tr.Send(payload); err != nil {
		c.retire(call.ID)
		return nil, err
	}

	c.logger.Info().
		Uint64("id", call.ID).
		Str("method", method).
		Msg("request sent")
	return call, nil
}

// Await blocks until the call resolves. The wait is bounded by the
// configured per-request timeout and by ctx; either way the id is retired
// on expiry so a late response is treated as orphaned.
func (c *Correlator) Await(ctx context.Context, call *Call) (json.RawMessage, error) {
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case res := <-call.done:
		return res.payload, res.err
	case <-timer.C:
		return c.expire(call, fmt.Errorf("%s (id %d): %w", call.Method, call.ID, ErrRequestTimeout))
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return c.expire(call, fmt.Errorf("%s (id %d): %w", call.Method, call.ID, ErrRequestTimeout))
		}
		return c.expire(call, fmt.Errorf("%s (id %d): %w", call.Method, call.ID, ErrCancelled))
	}
}

// Call dispatches and awaits in one step.
func (c *Correlator) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	call, err := c.Dispatch(method, params)
	if err != nil {
		return nil, err
	}
	return c.Await(ctx, call)
}

// Done is closed once the read loop has exited and every pending call has
// been resolved.
func (c *Correlator) Done() <-chan struct{} {
	return c.done
}

// expire retires the call's id, then resolves with err unless a response
// raced in just before retirement.
func (c *Correlator) expire(call *Call, err error) (json.RawMessage, error) {
	c.retire(call.ID)
	select {
	case res := <-call.done:
		return res.payload, res.err
	default:
	}
	return nil, err
}

// retire removes an id from the pending table without recording a delivery,
// so any response that arrives later is classified as orphaned.
func (c *Correlator) retire(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// readLoop routes every inbound frame. It exits when the transport's frame
// sequence ends, at which point all still-pending calls resolve as
// cancelled — no in-flight request is ever left unresolved.
func (c *Correlator) readLoop() {
	for frame := range c.tr.Frames() {
		resp, err := protocol.DecodeResponse(frame)
		if err != nil {
			c.logger.Warn().Err(err).Msg("discarding undecodable frame")
			continue
		}

		c.mu.Lock()
		call, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
			c.delivered[resp.ID] = struct{}{}
		}
		_, dup := c.delivered[resp.ID]
		c.mu.Unlock()

		switch {
		case ok:
			c.deliver(call, resp)
		case dup:
			c.logger.Warn().
				Uint64("id", resp.ID).
				Msg("duplicate response ignored")
		default:
			c.logger.Warn().
				Uint64("id", resp.ID).
				Msg("orphaned response discarded")
		}
	}
	c.shutdown()
}

// deliver resolves exactly one call with the response's result or error.
func (c *Correlator) deliver(call *Call, resp *protocol.Response) {
	c.logger.Info().
		Uint64("id", resp.ID).
		Str("method", call.Method).
		Dur("elapsed", time.Since(call.SentAt)).
		Msg("response received")
	if resp.Error != nil {
		call.done <- callResult{err: resp.Error}
		return
	}
	call.done <- callResult{payload: resp.Result}
}

// shutdown resolves every pending call with a cancellation error. Called
// once, when the transport ends.
func (c *Correlator) shutdown() {
	cause := c.tr.Err()

	c.mu.Lock()
	c.closed = true
	calls := make([]*Call, 0, len(c.pending))
	for id, call := range c.pending {
		calls = append(calls, call)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	for _, call := range calls {
		if cause != nil {
			call.done <- callResult{err: fmt.Errorf("%s (id %d): %w: %v", call.Method, call.ID, ErrCancelled, cause)}
		} else {
			call.done <- callResult{err: fmt.Errorf("%s (id %d): %w", call.Method, call.ID, ErrCancelled)}
		}
	}
	close(c.done)
}
