// Package probe orchestrates one identification run: connect, handshake,
// then the three system queries over the correlator.
//
// The session is an explicit Connection value owned by the caller — there
// is no process-wide state, so tests can run several simulated sessions in
// one process.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"node-probe/handshake"
	"node-probe/middleware"
	"node-probe/protocol"
	"node-probe/rpc"
	"node-probe/transport"
)

// Defaults for the CLI surface.
const (
	DefaultNodeAddress = "ws://127.0.0.1:9944"
	DefaultGenesisHash = "5972ecbfbc42507482dbcb0a2892bcd70161fd9acdfdf7e6455ab39bac3dfb83"
)

// Identification query methods.
const (
	MethodSystemName    = "system_name"
	MethodSystemChain   = "system_chain"
	MethodSystemVersion = "system_version"
)

// Endpoint names the node to probe and the chain identity it must prove.
// Immutable after construction.
type Endpoint struct {
	NodeAddress string
	GenesisHash protocol.Hash
}

// Info is the node's identification, one fact per query.
type Info struct {
	Name    string
	Chain   string
	Version string
}

// Connection is one session against one node. It owns the transport for
// the run's lifetime and refuses RPC traffic until the handshake engine
// reaches Authenticated.
type Connection struct {
	endpoint Endpoint
	logger   zerolog.Logger

	handshakeTimeout time.Duration
	requestTimeout   time.Duration
	rateLimit        float64
	rateBurst        int

	engine *handshake.Engine
	tr     *transport.Transport
	corr   *rpc.Correlator
	invoke middleware.Invoker
}

// Option configures a Connection.
type Option func(*Connection)

// WithLogger attaches a structured logger. Default is a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Connection) {
		c.logger = logger
	}
}

// WithHandshakeTimeout bounds the wait for the peer's handshake reply.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Connection) {
		c.handshakeTimeout = d
	}
}

// WithRequestTimeout bounds the wait for each RPC response. Timeouts are
// independent per request.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Connection) {
		c.requestTimeout = d
	}
}

// WithRateLimit paces outbound dispatch.
func WithRateLimit(r float64, burst int) Option {
	return func(c *Connection) {
		c.rateLimit = r
		c.rateBurst = burst
	}
}

// NewConnection creates a session for the endpoint in the Disconnected
// state. Nothing touches the network until Connect.
func NewConnection(endpoint Endpoint, opts ...Option) *Connection {
	c := &Connection{
		endpoint:         endpoint,
		logger:           zerolog.Nop(),
		handshakeTimeout: 10 * time.Second,
		requestTimeout:   10 * time.Second,
		rateLimit:        50,
		rateBurst:        10,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.engine = handshake.NewEngine(endpoint.NodeAddress, endpoint.GenesisHash,
		handshake.WithLogger(c.logger),
		handshake.WithTimeout(c.handshakeTimeout),
		handshake.WithTransportOptions(
			transport.WithLogger(c.logger),
			transport.WithKeepAlive(30*time.Second),
		),
	)
	return c
}

// State reports the connection's lifecycle state.
func (c *Connection) State() handshake.State {
	return c.engine.State()
}

// Connect dials and authenticates. On success the correlator takes over
// the transport's inbound frames and the connection accepts queries. Any
// failure is terminal for this Connection.
func (c *Connection) Connect(ctx context.Context) error {
	tr, err := c.engine.Connect(ctx)
	if err != nil {
		return err
	}
	c.tr = tr
	c.corr = rpc.NewCorrelator(tr,
		rpc.WithLogger(c.logger),
		rpc.WithRequestTimeout(c.requestTimeout),
	)
	c.invoke = middleware.Chain(
		middleware.LoggingMiddleware(c.logger),
		middleware.RateLimitMiddleware(c.rateLimit, c.rateBurst),
		middleware.TimeoutMiddleware(c.requestTimeout),
	)(c.corr.Call)
	return nil
}

// Call issues one RPC. It fails fast with ErrNotAuthenticated unless the
// handshake has completed.
func (c *Connection) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if !c.engine.Authenticated() {
		return nil, fmt.Errorf("%s: %w", method, handshake.ErrNotAuthenticated)
	}
	return c.invoke(ctx, method, params)
}

// Identify issues the three identification queries concurrently and waits
// for all of them. Each result is attributed by the call handle it was
// dispatched on, never by arrival order. Any unresolved query fails the
// run; there is no partial success.
func (c *Connection) Identify(ctx context.Context) (Info, error) {
	var info Info
	queries := []struct {
		method string
		out    *string
	}{
		{MethodSystemName, &info.Name},
		{MethodSystemChain, &info.Chain},
		{MethodSystemVersion, &info.Version},
	}

	var wg sync.WaitGroup
	errs := make([]error, len(queries))
	for i, q := range queries {
		wg.Add(1)
		go func(i int, method string, out *string) {
			defer wg.Done()
			raw, err := c.Call(ctx, method, nil)
			if err != nil {
				errs[i] = err
				return
			}
			if err := json.Unmarshal(raw, out); err != nil {
				errs[i] = fmt.Errorf("%s: decode result: %w", method, err)
			}
		}(i, q.method, q.out)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return Info{}, err
	}
	return info, nil
}

// Close terminates the session. The transport is closed and every pending
// request resolves before Close returns, so no in-flight call is left
// hanging. Safe to call multiple times and before Connect.
func (c *Connection) Close() error {
	if c.tr == nil {
		return nil
	}
	c.tr.Close()
	if c.corr != nil {
		<-c.corr.Done()
	}
	return nil
}
