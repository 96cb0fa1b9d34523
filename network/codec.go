package network

import (
	"bytes"
	"encoding/gob"

	"github.com/flowmesh/flowmesh/element"
)

// Codec is the pluggable serialization contract for NetworkMessage
// payloads carried over a remote (TCP-multiplexed) edge. Spec section 6
// leaves this "application-chosen"; flowmesh ships a gob-based default
// since the teacher repo already depends on encoding/gob for its own
// deep-copy path (types.go's ForkDuplicate/deepCopy).
type Codec[T any] interface {
	Encode(msg element.NetworkMessage[T]) ([]byte, error)
	Decode(b []byte) (element.NetworkMessage[T], error)
}

// GobCodec is the default Codec implementation.
type GobCodec[T any] struct{}

// Encode gob-encodes the message.
func (GobCodec[T]) Encode(msg element.NetworkMessage[T]) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := gob.NewEncoder(buf).Encode(msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode gob-decodes the message.
func (GobCodec[T]) Decode(b []byte) (element.NetworkMessage[T], error) {
	var msg element.NetworkMessage[T]
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&msg); err != nil {
		return msg, err
	}
	return msg, nil
}
