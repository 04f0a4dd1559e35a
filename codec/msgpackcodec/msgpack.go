// Package msgpackcodec implements the codec.Codec contract with
// github.com/ugorji/go/codec. Unlike tinylib/msgp, which requires generated
// per-type marshalers, ugorji/go/codec is reflection-based and needs no
// code generation, so it is the MessagePack codec workerbus actually ships.
package msgpackcodec

import (
	codec1978 "github.com/ugorji/go/codec"

	"github.com/vela-systems/workerbus/codec"
)

const (
	// Name is the serialization name negotiated in a handshake.
	Name        = "msgpack"
	contentType = "application/msgpack"
)

type msgpackCodec struct {
	handle *codec1978.MsgpackHandle
}

// New returns the MessagePack codec.
func New() codec.Codec {
	h := &codec1978.MsgpackHandle{}
	h.Canonical = true
	return &msgpackCodec{handle: h}
}

func (c *msgpackCodec) Name() string        { return Name }
func (c *msgpackCodec) ContentType() string { return contentType }

func (c *msgpackCodec) Marshal(v interface{}) ([]byte, error) {
	var buf []byte
	enc := codec1978.NewEncoderBytes(&buf, c.handle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *msgpackCodec) Unmarshal(data []byte, v interface{}) error {
	dec := codec1978.NewDecoderBytes(data, c.handle)
	return dec.Decode(v)
}
