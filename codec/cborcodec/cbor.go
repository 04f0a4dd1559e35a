// Package cborcodec implements the codec.Codec contract with
// github.com/fxamacker/cbor/v2. It is a data-channel codec: compact,
// binary-safe, and a natural fit for a plugin-style worker protocol.
package cborcodec

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/vela-systems/workerbus/codec"
)

const (
	// Name is the serialization name negotiated in a handshake.
	Name        = "cbor"
	contentType = "application/cbor"
)

type cborCodec struct {
	encMode cbor.EncMode
	decMode cbor.DecMode
}

// New returns the CBOR codec, using canonical (deterministic) encoding so
// that two peers encoding the same Value produce identical bytes — useful
// for tests that compare wire output.
func New() codec.Codec {
	encMode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err) // EncOptions is a fixed literal; this cannot fail.
	}
	decMode, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	return &cborCodec{encMode: encMode, decMode: decMode}
}

func (c *cborCodec) Name() string        { return Name }
func (c *cborCodec) ContentType() string { return contentType }

func (c *cborCodec) Marshal(v interface{}) ([]byte, error) {
	return c.encMode.Marshal(v)
}

func (c *cborCodec) Unmarshal(data []byte, v interface{}) error {
	return c.decMode.Unmarshal(data, v)
}
