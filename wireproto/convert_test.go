package wireproto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToValueFromValueRoundTrip(t *testing.T) {
	req := HandshakeRequest{
		Version:      "1.0",
		Capabilities: []string{"heartbeat", "data_channel"},
		DataChannel:  &DataChannelRequest{Path: "/tmp/ns-1.sock", Serialization: "cbor"},
	}

	v, err := ToValue(req)
	require.NoError(t, err)

	var out HandshakeRequest
	require.NoError(t, FromValue(v, &out))
	require.Equal(t, req, out)
}

func TestValueJSONRoundTripNested(t *testing.T) {
	v := List([]Value{
		String("a"),
		Map(map[string]Value{"n": Int(3)}),
	})
	data, err := v.MarshalJSON()
	require.NoError(t, err)

	var out Value
	require.NoError(t, out.UnmarshalJSON(data))
	require.Equal(t, []interface{}{"a", map[string]interface{}{"n": float64(3)}}, out.Any())
}
