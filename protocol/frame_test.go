package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskRoundTrip(t *testing.T) {
	keys := [][4]byte{
		{0, 0, 0, 0},
		{0xFF, 0xFF, 0xFF, 0xFF},
		{0x12, 0x34, 0x56, 0x78},
		{1, 2, 3, 4},
	}
	for _, key := range keys {
		for size := 0; size < 9; size++ {
			payload := make([]byte, size)
			for i := range payload {
				payload[i] = byte(i * 31)
			}
			original := append([]byte(nil), payload...)

			Mask(key, payload)
			Mask(key, payload)
			assert.Equal(t, original, payload)
		}
	}
}

func TestReadFrameLengthEncodings(t *testing.T) {
	for _, size := range []int{0, 1, 125, 126, 127, 0xFFFF, 0xFFFF + 1} {
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i)
		}

		var buf bytes.Buffer
		frames, err := WriteMessage(&buf, payload, size+1, true)
		require.Nil(t, err)
		require.Equal(t, 1, frames)

		f, err := ReadFrame(&buf, DefaultFrameLimit)
		require.Nil(t, err)
		assert.True(t, f.Fin)
		assert.Equal(t, OpBinary, f.Op)
		assert.Equal(t, payload, f.Payload)
	}
}

func TestReadFrameMasked(t *testing.T) {
	payload := []byte("the sample body")
	key := [4]byte{0xA1, 0xB2, 0xC3, 0xD4}

	masked := append([]byte(nil), payload...)
	Mask(key, masked)

	raw := []byte{byte(finBit | byte(OpBinary)), byte(maskBit | len(payload))}
	raw = append(raw, key[:]...)
	raw = append(raw, masked...)

	f, err := ReadFrame(bytes.NewReader(raw), DefaultFrameLimit)
	require.Nil(t, err)
	assert.Equal(t, payload, f.Payload)
}

func TestReadFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	_, err := WriteMessage(&buf, make([]byte, 1000), 2000, true)
	require.Nil(t, err)

	_, err = ReadFrame(&buf, 999)
	assert.Equal(t, ErrFrameTooLarge, err)
}

func TestReadFrameUnknownOpcode(t *testing.T) {
	raw := []byte{finBit | 0x3, 0}
	_, err := ReadFrame(bytes.NewReader(raw), DefaultFrameLimit)
	assert.Equal(t, ErrUnknownOpcode, err)
}

// decode(encode(payload)) == payload for every size from empty to three
// chunks, with ceil(len/chunk) frames and FIN only on the last.
func TestChunkingRoundTrip(t *testing.T) {
	const chunk = 16

	for size := 0; size <= 3*chunk; size++ {
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i ^ size)
		}

		var buf bytes.Buffer
		frames, err := WriteMessage(&buf, payload, chunk, true)
		require.Nil(t, err)

		want := (size + chunk - 1) / chunk
		if want == 0 {
			want = 1 // an empty message still takes one frame
		}
		require.Equal(t, want, frames, "size %d", size)

		var got []byte
		for i := 0; i < frames; i++ {
			f, err := ReadFrame(&buf, DefaultFrameLimit)
			require.Nil(t, err)
			assert.Equal(t, OpBinary, f.Op)
			assert.Equal(t, i == frames-1, f.Fin, "size %d frame %d", size, i)
			got = append(got, f.Payload...)
		}
		if size == 0 {
			assert.Empty(t, got)
		} else {
			assert.Equal(t, payload, got)
		}
	}
}

// With last=false no chunk may carry FIN: the payload continues in a
// later write of the same logical message.
func TestChunkingNotLast(t *testing.T) {
	var buf bytes.Buffer
	frames, err := WriteMessage(&buf, make([]byte, 40), 16, false)
	require.Nil(t, err)
	require.Equal(t, 3, frames)

	for i := 0; i < frames; i++ {
		f, err := ReadFrame(&buf, DefaultFrameLimit)
		require.Nil(t, err)
		assert.False(t, f.Fin)
	}
}
