package protocol

import (
	"errors"

	"github.com/fxamacker/cbor/v2"
)

var ErrBadEnvelope = errors.New("carbonara: malformed envelope stream")

// Message is one [type, payload] pair, the unit of application-level
// exchange. Payloads must be CBOR-encodable.
type Message struct {
	Type    uint32
	Payload any
}

// Batch is a sequence of messages that share one transport message.
type Batch []Message

// Append is a convenience for building snapshot batches.
func (b Batch) Append(msgType uint32, payload any) Batch {
	return append(b, Message{Type: msgType, Payload: payload})
}

// EncodeBatch serializes a batch as one flat CBOR array: [type, payload,
// type, payload, ...]. This is done exactly once per envelope and the
// bytes are shared between all recipients.
func EncodeBatch(b Batch) ([]byte, error) {
	flat := make([]any, 0, len(b)*2)
	for _, m := range b {
		flat = append(flat, m.Type, m.Payload)
	}
	return cbor.Marshal(flat)
}

// Inbound is one decoded pair of an inbound message; the payload stays
// raw until a handler knows its shape.
type Inbound struct {
	Type    uint32
	Payload cbor.RawMessage
}

// DecodeBatch walks a flat inbound array two elements at a time. An odd
// trailing element means the sender truncated the message: the pairs
// decoded so far are returned and the remainder is dropped, without
// failing the connection.
func DecodeBatch(data []byte) ([]Inbound, error) {
	var flat []cbor.RawMessage
	if err := cbor.Unmarshal(data, &flat); err != nil {
		return nil, ErrBadEnvelope
	}

	pairs := make([]Inbound, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		var msgType uint32
		if err := cbor.Unmarshal(flat[i], &msgType); err != nil {
			return pairs, ErrBadEnvelope
		}
		pairs = append(pairs, Inbound{Type: msgType, Payload: flat[i+1]})
	}
	return pairs, nil
}
