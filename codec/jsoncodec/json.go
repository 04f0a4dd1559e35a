// Package jsoncodec implements the codec.Codec contract with encoding/json,
// the control channel's default serialization. Unlike the cbor/msgpack
// reference codecs, no third-party library improves on the standard
// library here — encoding/json is itself the idiomatic choice for a
// line-delimited control protocol, so this one package is deliberately
// stdlib-only.
package jsoncodec

import (
	"encoding/json"

	"github.com/vela-systems/workerbus/codec"
)

const (
	Name        = "json"
	contentType = "application/json"
)

type jsonCodec struct{}

// New returns the JSON codec.
func New() codec.Codec { return jsonCodec{} }

func (jsonCodec) Name() string        { return Name }
func (jsonCodec) ContentType() string { return contentType }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
