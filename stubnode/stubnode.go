// Package stubnode implements an in-process stand-in for a real node: a
// WebSocket server that answers the handshake and the system_* queries.
//
// Tests drive the probe against a stub instead of a live chain. The knobs
// cover the failure modes the client must survive: a wrong genesis hash, a
// malformed or missing handshake reply, responses delivered out of order,
// duplicated responses, and unsolicited responses with unknown ids.
package stubnode

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"node-probe/codec"
	"node-probe/handshake"
	"node-probe/protocol"
)

// Default identification answers.
const (
	DefaultName    = "Substrate Node"
	DefaultChain   = "Development"
	DefaultVersion = "0.0.0-d70f8f9"
)

// HandlerFunc computes the result (or error) for one RPC method. Returning
// nil for both drops the request without a response.
type HandlerFunc func(params []any) (any, *protocol.ResponseError)

// Node is the stub peer. Start listens on a loopback port; URL gives the
// ws:// address to dial.
type Node struct {
	methods  map[string]HandlerFunc
	codec    codec.Codec
	upgrader websocket.Upgrader

	genesis            *protocol.Hash // nil: echo whatever the client sent
	silentHandshake    bool
	malformedHandshake bool
	reverseBatch       int
	duplicateResponses bool
	unsolicitedID      uint64

	listener net.Listener
	srv      *http.Server
	wg       sync.WaitGroup
	requests atomic.Int64
}

// Option configures a stub Node.
type Option func(*Node)

// WithGenesis makes the handshake reply carry h instead of echoing the
// client's value. Used to simulate a wrong-chain peer.
func WithGenesis(h protocol.Hash) Option {
	return func(n *Node) {
		n.genesis = &h
	}
}

// WithSilentHandshake makes the stub read the handshake and never reply.
func WithSilentHandshake() Option {
	return func(n *Node) {
		n.silentHandshake = true
	}
}

// WithMalformedHandshake makes the stub reply with bytes that do not decode
// as a handshake message.
func WithMalformedHandshake() Option {
	return func(n *Node) {
		n.malformedHandshake = true
	}
}

// WithReverseBatch buffers size responses and sends them in reverse arrival
// order, exercising the client's id-based attribution.
func WithReverseBatch(size int) Option {
	return func(n *Node) {
		n.reverseBatch = size
	}
}

// WithDuplicateResponses sends every response twice.
func WithDuplicateResponses() Option {
	return func(n *Node) {
		n.duplicateResponses = true
	}
}

// WithUnsolicitedResponse sends one extra response carrying the given
// (never-dispatched) id after the first real response.
func WithUnsolicitedResponse(id uint64) Option {
	return func(n *Node) {
		n.unsolicitedID = id
	}
}

// New creates a stub answering the three identification queries with the
// default values. Handle overrides or extends the method table.
func New(opts ...Option) *Node {
	n := &Node{
		methods: make(map[string]HandlerFunc),
		codec:   codec.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.Handle("system_name", staticResult(DefaultName))
	n.Handle("system_chain", staticResult(DefaultChain))
	n.Handle("system_version", staticResult(DefaultVersion))
	return n
}

func staticResult(v string) HandlerFunc {
	return func(params []any) (any, *protocol.ResponseError) {
		return v, nil
	}
}

// Handle registers or replaces the handler for an RPC method.
func (n *Node) Handle(method string, fn HandlerFunc) {
	n.methods[method] = fn
}

// Start listens on an ephemeral loopback port and serves connections until
// Close.
func (n *Node) Start() error {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	n.listener = listener
	n.srv = &http.Server{Handler: http.HandlerFunc(n.serveWS)}
	go func() {
		_ = n.srv.Serve(listener)
	}()
	return nil
}

// URL returns the WebSocket address of the running stub.
func (n *Node) URL() string {
	return fmt.Sprintf("ws://%s", n.listener.Addr())
}

// RequestCount reports how many RPC requests reached the stub. The probe's
// tests use it to prove no query is dispatched after a failed handshake.
func (n *Node) RequestCount() int64 {
	return n.requests.Load()
}

// Close stops the listener and waits for per-connection goroutines.
func (n *Node) Close() {
	if n.srv != nil {
		n.srv.Close()
	}
	n.wg.Wait()
}

func (n *Node) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	n.wg.Add(1)
	defer n.wg.Done()
	defer conn.Close()
	n.handleConn(conn)
}

// handleConn processes one session: handshake first, then the RPC loop.
// Each connection is served by a single goroutine, so writes are naturally
// sequential and batch reordering stays deterministic.
func (n *Node) handleConn(conn *websocket.Conn) {
	_, first, err := conn.ReadMessage()
	if err != nil {
		return
	}
	if !n.replyHandshake(conn, first) {
		// Silent mode: keep the connection open so the client's bounded
		// wait, not a disconnect, ends the handshake.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}

	var batch [][]byte
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		n.requests.Add(1)

		reply, id := n.answer(frame)
		if reply == nil {
			continue
		}

		if n.reverseBatch > 1 {
			batch = append(batch, reply)
			if len(batch) < n.reverseBatch {
				continue
			}
			for i := len(batch) - 1; i >= 0; i-- {
				if !n.writeResponse(conn, batch[i]) {
					return
				}
			}
			batch = nil
			continue
		}

		if !n.writeResponse(conn, reply) {
			return
		}
		if n.unsolicitedID != 0 && id != n.unsolicitedID {
			orphan, _ := n.codec.Encode(&protocol.Response{
				ID:      n.unsolicitedID,
				JSONRPC: protocol.Version,
				Result:  []byte(`"unsolicited"`),
			})
			if err := conn.WriteMessage(websocket.TextMessage, orphan); err != nil {
				return
			}
			n.unsolicitedID = 0
		}
	}
}

// replyHandshake sends the handshake response per configuration. Returns
// false when the stub is configured to stay silent.
func (n *Node) replyHandshake(conn *websocket.Conn, first []byte) bool {
	if n.silentHandshake {
		return false
	}
	if n.malformedHandshake {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not a handshake"))
		return true
	}

	var client handshake.Message
	_ = n.codec.Decode(first, &client)

	genesis := client.GenesisHash
	if n.genesis != nil {
		genesis = *n.genesis
	}
	reply, _ := n.codec.Encode(&handshake.Message{
		Version:      handshake.ProtocolVersion,
		Name:         "stub-node",
		Chain:        DefaultChain,
		GenesisHash:  genesis,
		Capabilities: []string{"full"},
	})
	_ = conn.WriteMessage(websocket.TextMessage, reply)
	return true
}

// answer builds the response frame for one request frame.
func (n *Node) answer(frame []byte) ([]byte, uint64) {
	var req protocol.Request
	if err := n.codec.Decode(frame, &req); err != nil {
		return nil, 0
	}

	resp := &protocol.Response{
		ID:      req.ID,
		JSONRPC: protocol.Version,
	}
	fn, ok := n.methods[req.Method]
	if !ok {
		resp.Error = &protocol.ResponseError{Code: -32601, Message: "Method not found"}
	} else {
		result, rpcErr := fn(req.Params)
		if result == nil && rpcErr == nil {
			// Handler chose not to answer; the request stays unresolved on
			// the client side.
			return nil, 0
		}
		if rpcErr != nil {
			resp.Error = rpcErr
		} else {
			payload, err := n.codec.Encode(result)
			if err != nil {
				resp.Error = &protocol.ResponseError{Code: -32603, Message: "Internal error"}
			} else {
				resp.Result = payload
			}
		}
	}

	reply, err := n.codec.Encode(resp)
	if err != nil {
		return nil, 0
	}
	return reply, req.ID
}

// writeResponse sends one frame, duplicating it when configured.
func (n *Node) writeResponse(conn *websocket.Conn, reply []byte) bool {
	if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
		return false
	}
	if n.duplicateResponses {
		if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
			return false
		}
	}
	return true
}
