package protocol

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
)

type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// Safety valve, not a protocol constant. Overridable via Options.
const DefaultFrameLimit = 100_000_000

var (
	ErrFrameTooLarge  = errors.New("carbonara: frame exceeds size limit")
	ErrUnknownOpcode  = errors.New("carbonara: unknown websocket opcode")
	ErrSocketReleased = errors.New("carbonara: socket already closed")
)

const (
	finBit  = 0x80
	maskBit = 0x80
)

type Frame struct {
	Fin     bool
	Op      Opcode
	Payload []byte
}

// ReadFrame parses one websocket frame off r. The 2-byte header carries
// FIN, the opcode, the MASK bit and a 7-bit length; length codes 126 and
// 127 extend it by 2 or 8 big-endian bytes. Masked payloads are unmasked
// in place before returning.
func ReadFrame(r io.Reader, limit int64) (f Frame, err error) {
	var hdr [2]byte
	if _, err = io.ReadFull(r, hdr[:]); err != nil {
		return
	}

	f.Fin = hdr[0]&finBit != 0
	f.Op = Opcode(hdr[0] & 0x0F)
	switch f.Op {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
	default:
		return f, ErrUnknownOpcode
	}

	masked := hdr[1]&maskBit != 0
	length := int64(hdr[1] & 0x7F)
	switch length {
	case 126:
		var ext [2]byte
		if _, err = io.ReadFull(r, ext[:]); err != nil {
			return
		}
		length = int64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err = io.ReadFull(r, ext[:]); err != nil {
			return
		}
		length = int64(binary.BigEndian.Uint64(ext[:]))
	}
	if length < 0 || length > limit {
		return f, ErrFrameTooLarge
	}

	var key [4]byte
	if masked {
		if _, err = io.ReadFull(r, key[:]); err != nil {
			return
		}
	}

	f.Payload = make([]byte, length)
	if _, err = io.ReadFull(r, f.Payload); err != nil {
		return
	}
	if masked {
		Mask(key, f.Payload)
	}
	return f, nil
}

// Mask applies the websocket XOR mask in place. Masking and unmasking
// are the same operation.
func Mask(key [4]byte, payload []byte) {
	for i := range payload {
		payload[i] ^= key[i%4]
	}
}

// AppendHeader appends a frame header for an unmasked server frame,
// picking the smallest of the 1/2/8-byte length encodings.
func AppendHeader(dst []byte, fin bool, op Opcode, n int) []byte {
	b0 := byte(op)
	if fin {
		b0 |= finBit
	}
	dst = append(dst, b0)

	switch {
	case n < 126:
		dst = append(dst, byte(n))
	case n <= 0xFFFF:
		dst = append(dst, 126)
		dst = binary.BigEndian.AppendUint16(dst, uint16(n))
	default:
		dst = append(dst, 127)
		dst = binary.BigEndian.AppendUint64(dst, uint64(n))
	}
	return dst
}

// WriteMessage frames payload onto w, splitting it into chunkLimit-sized
// binary frames. FIN is set only on the final chunk, and only when last
// says this payload completes the logical message. All frames of the
// message go out in one vectored write. Returns the number of frames
// written.
func WriteMessage(w io.Writer, payload []byte, chunkLimit int, last bool) (frames int, err error) {
	if chunkLimit <= 0 {
		chunkLimit = DefaultFrameLimit
	}

	var recs Records
	rest := payload
	for {
		chunk := rest
		if len(chunk) > chunkLimit {
			chunk = chunk[:chunkLimit]
		}
		rest = rest[len(chunk):]

		final := len(rest) == 0
		recs = append(recs, AppendHeader(make([]byte, 0, 10), final && last, OpBinary, len(chunk)))
		if len(chunk) > 0 {
			recs = append(recs, chunk)
		}
		frames++

		if final {
			break
		}
	}

	total := recs.TotalLen()
	bufs := net.Buffers(recs)
	n, err := bufs.WriteTo(w)
	if err == nil && n != total {
		err = io.ErrShortWrite
	}
	return
}

// WriteControl writes a single-frame control message (ping, pong, close).
func WriteControl(w io.Writer, op Opcode, payload []byte) error {
	hdr := AppendHeader(make([]byte, 0, 10), true, op, len(payload))
	bufs := net.Buffers{hdr}
	if len(payload) > 0 {
		bufs = append(bufs, payload)
	}
	_, err := bufs.WriteTo(w)
	return err
}
