package handshake

import (
	"node-probe/protocol"
)

// ProtocolVersion is the handshake schema version. Bump when the message
// gains fields the peer must understand.
const ProtocolVersion = 1

// Message is the handshake payload exchanged before application traffic.
// The genesis hash is the load-bearing field; the rest identifies the
// sender and is kept minimal and versioned for future extension.
type Message struct {
	Version      uint32        `json:"version"`
	Name         string        `json:"name"`
	Chain        string        `json:"chain"`
	GenesisHash  protocol.Hash `json:"genesis_hash"`
	Capabilities []string      `json:"capabilities"`
}

// NewMessage builds the client's handshake message for the given chain
// identity.
func NewMessage(cfg Config, genesis protocol.Hash) *Message {
	return &Message{
		Version:      ProtocolVersion,
		Name:         cfg.NodeName,
		Chain:        cfg.ChainName,
		GenesisHash:  genesis,
		Capabilities: cfg.Capabilities,
	}
}
