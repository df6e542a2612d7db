package protocol

import (
	"encoding/hex"
	"fmt"
)

// HashSize is the byte length of a genesis hash.
const HashSize = 32

// Hash is a fixed-length chain identifier (the genesis block hash). It is
// the value both sides compare during the handshake to detect a wrong-chain
// or hostile peer.
type Hash [HashSize]byte

// ParseHash decodes a 64-character hex string (an optional "0x" prefix is
// accepted) into a Hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("parse hash: %w", err)
	}
	if len(raw) != HashSize {
		return h, fmt.Errorf("parse hash: expected %d bytes, got %d", HashSize, len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

// MustParseHash is ParseHash for compile-time constants; it panics on
// malformed input.
func MustParseHash(s string) Hash {
	h, err := ParseHash(s)
	if err != nil {
		panic(err)
	}
	return h
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// MarshalText implements encoding.TextMarshaler so a Hash serializes as a
// hex string inside JSON payloads.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
