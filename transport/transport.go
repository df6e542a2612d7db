// Package transport owns the single WebSocket connection to the remote node.
//
// A Transport wraps exactly one live connection. Writes from concurrent
// goroutines are serialized by a sending mutex so text frames never
// interleave, and a single reader goroutine (readLoop) turns the socket into
// a lazy sequence of inbound frames:
//
//	handshake / rpc layers ──Send(frame)──→ one ws conn ──→ node
//	readLoop: ←── frame ──→ Frames() channel ──→ whoever is awaiting input
//
// There is no implicit reconnection: when the connection breaks the frame
// channel closes and the Transport is done.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrClosed reports a send attempted after Close (or after the peer
// disconnected).
var ErrClosed = errors.New("transport closed")

// ConnectError wraps a failure to establish the connection. Fatal; the
// caller does not retry.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SendError wraps a failure to write a frame on an established connection.
type SendError struct {
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Transport is a single duplex message channel to the node.
type Transport struct {
	conn      *websocket.Conn
	frames    chan []byte   // Inbound text frames, closed when readLoop exits
	closed    chan struct{} // Closed exactly once by Close
	closeOnce sync.Once
	sending   sync.Mutex // Serializes concurrent writers on the one conn
	readErr   error      // Terminal read error; written before frames is closed
	keepAlive time.Duration
	logger    zerolog.Logger
}

// Option configures a Transport at dial time.
type Option func(*Transport)

// WithLogger attaches a structured logger. Default is a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithKeepAlive starts a background ping loop with the given interval so
// idle connections are not dropped by intermediaries.
func WithKeepAlive(interval time.Duration) Option {
	return func(t *Transport) {
		t.keepAlive = interval
	}
}

// Dial opens the WebSocket connection to addr and starts the reader
// goroutine. Failure to establish the connection returns a ConnectError.
func Dial(ctx context.Context, addr string, opts ...Option) (*Transport, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, &ConnectError{Addr: addr, Err: err}
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	t := &Transport{
		conn:   conn,
		frames: make(chan []byte, 16),
		closed: make(chan struct{}),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}

	go t.readLoop()
	if t.keepAlive > 0 {
		go t.pingLoop(t.keepAlive)
	}
	return t, nil
}

// Send writes one text frame. It fails with a SendError once the transport
// is closed or the peer has disconnected.
func (t *Transport) Send(payload []byte) error {
	select {
	case <-t.closed:
		return &SendError{Err: ErrClosed}
	default:
	}

	t.sending.Lock()
	defer t.sending.Unlock()
	if err := t.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return &SendError{Err: err}
	}
	return nil
}

// Frames returns the inbound frame sequence. The channel is closed when the
// connection ends, for any reason; Err reports why.
func (t *Transport) Frames() <-chan []byte {
	return t.frames
}

// Err returns the terminal read error. Only meaningful after Frames() has
// been closed; nil means the connection was shut down locally or closed
// cleanly by the peer.
func (t *Transport) Err() error {
	return t.readErr
}

// Close releases the connection. Safe to call multiple times; only the
// first call has any effect.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		// Best-effort close frame so well-behaved peers see a clean shutdown.
		t.sending.Lock()
		_ = t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		t.sending.Unlock()
		t.conn.Close()
		t.logger.Debug().Msg("transport closed")
	})
	return nil
}

// readLoop is the single reader on the connection. Reads must be sequential,
// so all inbound routing funnels through here and out the frames channel.
func (t *Transport) readLoop() {
	defer close(t.frames)
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.closed:
				// Local shutdown, not a transport failure.
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					t.readErr = err
					t.logger.Debug().Err(err).Msg("read loop terminated")
				}
			}
			return
		}
		select {
		case t.frames <- data:
		case <-t.closed:
			return
		}
	}
}

// pingLoop sends periodic ping control frames until the transport closes.
func (t *Transport) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.closed:
			return
		case <-ticker.C:
			t.sending.Lock()
			err := t.conn.WriteControl(
				websocket.PingMessage, nil, time.Now().Add(time.Second))
			t.sending.Unlock()
			if err != nil {
				return
			}
		}
	}
}
