// Package codec abstracts payload serialization for the handshake and RPC
// layers. The node speaks UTF-8 JSON on text frames, so JSON is the only
// wire codec; the interface keeps the two layers from hard-coding the
// encoding and leaves room for a binary handshake codec later.
package codec

// Codec serializes structured payloads to frame bytes and back.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// Default returns the codec used on the wire.
func Default() Codec {
	return &JSONCodec{}
}
