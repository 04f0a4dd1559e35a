package wireproto

import "encoding/json"

// ToValue projects a typed Go struct (e.g. HandshakeRequest) into the
// opaque Value tree carried as a Message's Params/Result. It round-trips
// through encoding/json rather than reflecting fields directly, so it works
// uniformly regardless of which concrete Codec a channel is configured
// with — callers building protocol messages never need to know that.
func ToValue(v interface{}) (Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Value{}, err
	}
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Value{}, err
	}
	return FromAny(raw), nil
}

// FromValue reverses ToValue, decoding a Value tree into a typed Go struct.
func FromValue(v Value, out interface{}) error {
	data, err := json.Marshal(v.Any())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
