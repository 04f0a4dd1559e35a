package wireproto

import (
	"encoding/json"

	fxcbor "github.com/fxamacker/cbor/v2"
	ugcodec "github.com/ugorji/go/codec"
)

// Value is the tagged-sum representation of an envelope's opaque params:
// internally it models a tagged sum of {null, bool, int, float, string,
// bytes, list, map}, and each reference codec projects into/out of it
// through the hooks below rather than handing Raw to the codec's own
// reflection. Handlers type-validate their own inputs; the protocol layer
// never inspects Value's contents.
//
// A reflection-based codec decoding straight into interface{} cannot
// recover List/Map's concrete []Value/map[string]Value shape on its own —
// cbor and msgpack would hand back []interface{}/map[interface{}]interface{}
// instead, silently losing the type assertions in Any() for anything nested
// inside a List or Map. MarshalJSON/UnmarshalJSON already avoid this by
// projecting through Any()/FromAny(); MarshalCBOR/UnmarshalCBOR and
// CodecEncodeSelf/CodecDecodeSelf do the same for the other two reference
// codecs.
type Value struct {
	Kind Kind
	Raw  interface{}
}

// Kind enumerates the variants of Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindList
	KindMap
)

func Null() Value                { return Value{Kind: KindNull} }
func Bool(v bool) Value          { return Value{Kind: KindBool, Raw: v} }
func Int(v int64) Value          { return Value{Kind: KindInt, Raw: v} }
func Float(v float64) Value      { return Value{Kind: KindFloat, Raw: v} }
func String(v string) Value      { return Value{Kind: KindString, Raw: v} }
func Bytes(v []byte) Value       { return Value{Kind: KindBytes, Raw: v} }
func List(v []Value) Value       { return Value{Kind: KindList, Raw: v} }
func Map(v map[string]Value) Value { return Value{Kind: KindMap, Raw: v} }

// FromAny wraps an arbitrary decoded value (as produced by a reflection-based
// codec such as cbor or ugorji/codec) into a Value tree.
func FromAny(v interface{}) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint64:
		return Int(int64(t))
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case string:
		return String(t)
	case []byte:
		return Bytes(t)
	case []interface{}:
		list := make([]Value, len(t))
		for i, e := range t {
			list[i] = FromAny(e)
		}
		return List(list)
	case map[string]interface{}:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			m[k] = FromAny(e)
		}
		return Map(m)
	case map[interface{}]interface{}:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			if ks, ok := k.(string); ok {
				m[ks] = FromAny(e)
			}
		}
		return Map(m)
	default:
		return Value{Kind: KindString, Raw: v}
	}
}

// Any unwraps a Value tree back into plain interface{} values suitable for
// handing to a reflection-based codec's Marshal.
func (v Value) Any() interface{} {
	switch v.Kind {
	case KindNull:
		return nil
	case KindList:
		list, _ := v.Raw.([]Value)
		out := make([]interface{}, len(list))
		for i, e := range list {
			out[i] = e.Any()
		}
		return out
	case KindMap:
		m, _ := v.Raw.(map[string]Value)
		out := make(map[string]interface{}, len(m))
		for k, e := range m {
			out[k] = e.Any()
		}
		return out
	default:
		return v.Raw
	}
}

// MarshalJSON projects a Value through Any() so the JSON codec's wire shape
// is plain JSON (a string, a number, an array, an object) rather than an
// exposed {Kind,Raw} record.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

// UnmarshalJSON decodes plain JSON back into a Value tree via FromAny.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// MarshalCBOR implements cbor.Marshaler, projecting through Any() the same
// way MarshalJSON does.
func (v Value) MarshalCBOR() ([]byte, error) {
	return fxcbor.Marshal(v.Any())
}

// UnmarshalCBOR implements cbor.Unmarshaler, rebuilding the Value tree via
// FromAny so a nested List/Map keeps its concrete type across the round
// trip instead of decaying to []interface{}/map[interface{}]interface{}.
func (v *Value) UnmarshalCBOR(data []byte) error {
	var raw interface{}
	if err := fxcbor.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// CodecEncodeSelf implements ugorji/go/codec's Selfer, projecting through
// Any() the same way MarshalJSON does.
func (v Value) CodecEncodeSelf(e *ugcodec.Encoder) {
	e.MustEncode(v.Any())
}

// CodecDecodeSelf implements ugorji/go/codec's Selfer, rebuilding the Value
// tree via FromAny so a nested List/Map keeps its concrete type across the
// round trip.
func (v *Value) CodecDecodeSelf(d *ugcodec.Decoder) {
	var raw interface{}
	d.MustDecode(&raw)
	*v = FromAny(raw)
}
