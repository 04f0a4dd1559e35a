package framing

import (
	"encoding/binary"
)

const (
	prefixLen = 4
	// DefaultMaxFrameSize is the default maximum payload size (16 MiB).
	DefaultMaxFrameSize = 16 << 20
	// maxUint31 bounds a length-prefixed payload: payload <= 2^31-1 bytes,
	// enforced even though the prefix itself is a uint32.
	maxUint31 = 1<<31 - 1
)

// LengthPrefixed implements Framer with a 4-byte big-endian length prefix
// followed by the payload.
//
// Pushed chunks are kept in a list with a read cursor rather than
// concatenated into a single growing buffer on every call — repeated
// concatenation of many small chunks is a known O(n^2) hotspot on large
// payloads. A frame's bytes are copied into one pre-allocated output slice
// only once the frame is known complete.
type LengthPrefixed struct {
	maxFrameSize int

	chunks    [][]byte
	chunksLen int // total bytes currently held across chunks, unconsumed
	cursor    int // offset into chunks[0] not yet consumed
}

// NewLengthPrefixed creates a length-prefixed framer. maxFrameSize <= 0
// selects DefaultMaxFrameSize.
func NewLengthPrefixed(maxFrameSize int) *LengthPrefixed {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &LengthPrefixed{maxFrameSize: maxFrameSize}
}

// Encode implements Framer.
func (f *LengthPrefixed) Encode(payload []byte) ([]byte, error) {
	if len(payload) > maxUint31 || len(payload) > f.maxFrameSize {
		return nil, newError("encode", ErrFrameTooLarge)
	}
	out := make([]byte, prefixLen+len(payload))
	binary.BigEndian.PutUint32(out[:prefixLen], uint32(len(payload)))
	copy(out[prefixLen:], payload)
	return out, nil
}

// Push implements Framer.
func (f *LengthPrefixed) Push(chunk []byte) ([][]byte, error) {
	if len(chunk) > 0 {
		f.chunks = append(f.chunks, chunk)
		f.chunksLen += len(chunk)
	}

	var frames [][]byte
	for {
		if f.chunksLen < prefixLen {
			return frames, nil
		}
		prefix := f.peek(prefixLen)
		length := binary.BigEndian.Uint32(prefix)
		if length > maxUint31 {
			return frames, newError("push", ErrMalformedPrefix)
		}
		if int(length) > f.maxFrameSize {
			return frames, newError("push", ErrFrameTooLarge)
		}
		total := prefixLen + int(length)
		if f.chunksLen < total {
			return frames, nil
		}

		frame := make([]byte, length)
		f.consume(prefixLen)
		f.copyOut(frame)
		f.consume(int(length))
		frames = append(frames, frame)
	}
}

// peek returns the first n unconsumed bytes without consuming them. It may
// allocate if the bytes span more than one chunk.
func (f *LengthPrefixed) peek(n int) []byte {
	if len(f.chunks) == 0 {
		return nil
	}
	first := f.chunks[0][f.cursor:]
	if len(first) >= n {
		return first[:n]
	}
	out := make([]byte, 0, n)
	out = append(out, first...)
	for i := 1; i < len(f.chunks) && len(out) < n; i++ {
		need := n - len(out)
		c := f.chunks[i]
		if len(c) > need {
			c = c[:need]
		}
		out = append(out, c...)
	}
	return out
}

// copyOut copies the next len(dst) unconsumed bytes into dst without
// consuming them; callers pair it with consume.
func (f *LengthPrefixed) copyOut(dst []byte) {
	copied := 0
	cursor := f.cursor
	for i := 0; i < len(f.chunks) && copied < len(dst); i++ {
		c := f.chunks[i]
		if i == 0 {
			c = c[cursor:]
		}
		n := copy(dst[copied:], c)
		copied += n
	}
}

// consume drops n bytes from the front of the buffered chunks.
func (f *LengthPrefixed) consume(n int) {
	f.chunksLen -= n
	for n > 0 && len(f.chunks) > 0 {
		avail := len(f.chunks[0]) - f.cursor
		if n < avail {
			f.cursor += n
			return
		}
		n -= avail
		f.chunks = f.chunks[1:]
		f.cursor = 0
	}
}
