package handshake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"node-probe/codec"
	"node-probe/protocol"
	"node-probe/transport"
)

// Engine drives one connection through the authentication exchange. It owns
// the dial: Connect returns the live transport only once the peer has been
// authenticated, so callers cannot reach the socket from any other state.
type Engine struct {
	addr     string
	expected protocol.Hash
	cfg      Config
	codec    codec.Codec
	logger   zerolog.Logger
	trOpts   []transport.Option

	mu    sync.Mutex
	state State
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger attaches a structured logger. Default is a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithConfig overrides the default handshake configuration.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithTimeout overrides the bounded wait for the peer's reply.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.cfg.Timeout = d
	}
}

// WithTransportOptions passes options through to the underlying dial.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(e *Engine) {
		e.trOpts = append(e.trOpts, opts...)
	}
}

// NewEngine creates an engine in StateDisconnected for the node at addr,
// expecting the given genesis hash.
func NewEngine(addr string, expected protocol.Hash, opts ...Option) *Engine {
	e := &Engine{
		addr:     addr,
		expected: expected,
		cfg:      NewConfig(),
		codec:    codec.Default(),
		logger:   zerolog.Nop(),
		state:    StateDisconnected,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Authenticated reports whether the channel is usable for RPC traffic.
func (e *Engine) Authenticated() bool {
	return e.State() == StateAuthenticated
}

// Connect dials the node and performs the handshake. On success the engine
// is Authenticated and the transport is returned to the caller, who owns it
// from then on. On any failure the engine is Failed, the transport (if it
// was opened) is closed, and the returned error carries the reason.
func (e *Engine) Connect(ctx context.Context) (*transport.Transport, error) {
	if s := e.State(); s != StateDisconnected {
		return nil, fmt.Errorf("connect from state %s: handshake already attempted", s)
	}
	e.to(StateConnecting)
	e.logger.Info().Str("addr", e.addr).Msg("connecting")

	tr, err := transport.Dial(ctx, e.addr, e.trOpts...)
	if err != nil {
		e.fail(err)
		return nil, err
	}
	e.to(StateConnected)
	e.logger.Info().Str("addr", e.addr).Msg("connected")

	payload, err := e.codec.Encode(NewMessage(e.cfg, e.expected))
	if err != nil {
		tr.Close()
		e.fail(err)
		return nil, fmt.Errorf("encode handshake: %w", err)
	}
	if err := tr.Send(payload); err != nil {
		tr.Close()
		e.fail(err)
		return nil, fmt.Errorf("send handshake: %w", err)
	}
	e.to(StateHandshakeInFlight)

	if err := e.awaitReply(ctx, tr); err != nil {
		tr.Close()
		e.fail(err)
		return nil, err
	}

	e.to(StateAuthenticated)
	e.logger.Info().Str("genesis", e.expected.String()).Msg("handshake complete")
	return tr, nil
}

// awaitReply blocks for the peer's first frame and validates it. The wait
// is bounded by the configured timeout and by ctx.
func (e *Engine) awaitReply(ctx context.Context, tr *transport.Transport) error {
	timer := time.NewTimer(e.cfg.Timeout)
	defer timer.Stop()

	select {
	case frame, ok := <-tr.Frames():
		if !ok {
			if err := tr.Err(); err != nil {
				return fmt.Errorf("%w: connection lost: %v", ErrMalformedResponse, err)
			}
			return fmt.Errorf("%w: peer closed connection", ErrMalformedResponse)
		}
		return e.validate(frame)
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// validate checks the peer's reply. Genesis identity is the trust anchor:
// a well-formed reply naming any other chain fails the run.
func (e *Engine) validate(frame []byte) error {
	var reply Message
	if err := e.codec.Decode(frame, &reply); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if reply.Version < 1 {
		return fmt.Errorf("%w: missing protocol version", ErrMalformedResponse)
	}
	if reply.GenesisHash != e.expected {
		return fmt.Errorf("%w: expected %s, peer sent %s",
			ErrGenesisMismatch, e.expected, reply.GenesisHash)
	}
	return nil
}

// to performs a state transition, enforcing the transition table.
func (e *Engine) to(next State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, allowed := range stateTransitions[e.state] {
		if next == allowed {
			e.logger.Debug().
				Stringer("from", e.state).
				Stringer("to", next).
				Msg("handshake state")
			e.state = next
			return
		}
	}
	panic(fmt.Sprintf("handshake: illegal transition %s -> %s", e.state, next))
}

func (e *Engine) fail(reason error) {
	e.to(StateFailed)
	e.logger.Error().Err(reason).Msg("handshake failed")
}
