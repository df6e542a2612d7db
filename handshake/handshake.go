// Package handshake implements the authentication exchange that must
// complete before any RPC traffic flows.
//
// The engine is a state machine with one instance per connection:
//
//	Disconnected → Connecting → Connected → HandshakeInFlight
//	                                          → Authenticated (success)
//	                                          → Failed        (terminal)
//
// On entering Connected the engine sends a versioned handshake message
// carrying the genesis hash of the chain the client expects. The peer's
// first inbound frame is the sole success signal: it must decode as a
// handshake message and its genesis hash must equal the expected value.
// A mismatch means a wrong-chain or hostile peer and is always fatal —
// there is no downgrade to an unauthenticated session.
package handshake

import (
	"errors"
	"fmt"
	"time"
)

// State is the connection's position in the handshake lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateHandshakeInFlight
	StateAuthenticated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateHandshakeInFlight:
		return "HandshakeInFlight"
	case StateAuthenticated:
		return "Authenticated"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// stateTransitions is the legal transition table. Every state change goes
// through Engine.to, which enforces it; an illegal transition is a
// programming error, not a runtime condition.
var stateTransitions = map[State][]State{
	StateDisconnected:      {StateConnecting},
	StateConnecting:        {StateConnected, StateFailed},
	StateConnected:         {StateHandshakeInFlight, StateFailed},
	StateHandshakeInFlight: {StateAuthenticated, StateFailed},
	StateAuthenticated:     {},
	StateFailed:            {},
}

// Failure reasons. All are terminal for the run.
var (
	// ErrTimeout reports that the peer sent no handshake reply within the
	// bounded wait.
	ErrTimeout = errors.New("handshake timeout")

	// ErrGenesisMismatch reports that the peer acknowledged a different
	// chain than the one the client expects.
	ErrGenesisMismatch = errors.New("genesis hash mismatch")

	// ErrMalformedResponse reports an undecodable or invalid handshake
	// reply.
	ErrMalformedResponse = errors.New("malformed handshake response")

	// ErrNotAuthenticated reports an RPC attempted before the handshake
	// reached Authenticated.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// Config carries the client's identity for the handshake message and the
// bounded wait for the peer's reply.
type Config struct {
	NodeName     string
	ChainName    string
	Capabilities []string
	Timeout      time.Duration
}

// NewConfig returns the default handshake configuration.
func NewConfig() Config {
	return Config{
		NodeName:     "node-probe",
		ChainName:    "substrate",
		Capabilities: []string{"full"},
		Timeout:      10 * time.Second,
	}
}
