package framing

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLengthPrefixedRoundTrip(t *testing.T) {
	f := NewLengthPrefixed(0)
	payloads := [][]byte{
		{},
		[]byte("hello"),
		bytes.Repeat([]byte{0xAB}, 1<<16),
	}

	var wire []byte
	for _, p := range payloads {
		enc, err := f.Encode(p)
		require.NoError(t, err)
		wire = append(wire, enc...)
	}

	// Feed the whole wire back in arbitrary small chunk splits and verify
	// we recover exactly the original payload sequence regardless of
	// split points.
	r := rand.New(rand.NewSource(1))
	dec := NewLengthPrefixed(0)
	var got [][]byte
	for len(wire) > 0 {
		n := 1 + r.Intn(7)
		if n > len(wire) {
			n = len(wire)
		}
		frames, err := dec.Push(wire[:n])
		require.NoError(t, err)
		got = append(got, frames...)
		wire = wire[n:]
	}

	require.Len(t, got, len(payloads))
	for i, p := range payloads {
		require.Equal(t, p, got[i])
	}
}

func TestLengthPrefixedMaxSize(t *testing.T) {
	f := NewLengthPrefixed(10)
	_, err := f.Encode(make([]byte, 10))
	require.NoError(t, err)

	_, err = f.Encode(make([]byte, 11))
	require.Error(t, err)

	enc, err := NewLengthPrefixed(0).Encode(make([]byte, 11))
	require.NoError(t, err)
	_, err = f.Push(enc)
	require.Error(t, err)
}

func TestLineDelimitedRoundTrip(t *testing.T) {
	f := NewLineDelimited(0)
	enc1, err := f.Encode([]byte("hello"))
	require.NoError(t, err)
	enc2, err := f.Encode([]byte("world"))
	require.NoError(t, err)

	dec := NewLineDelimited(0)
	frames, err := dec.Push(append(enc1, enc2...))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("hello"), []byte("world")}, frames)
}

func TestLineDelimitedRejectsEmbeddedNewline(t *testing.T) {
	f := NewLineDelimited(0)
	_, err := f.Encode([]byte("hello\nworld"))
	require.Error(t, err)
}

func TestLengthPrefixedEmptyPayload(t *testing.T) {
	f := NewLengthPrefixed(0)
	enc, err := f.Encode(nil)
	require.NoError(t, err)
	frames, err := f.Push(enc)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.Empty(t, frames[0])
}
