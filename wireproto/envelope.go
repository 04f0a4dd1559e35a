// Package wireproto defines the request/response/notification envelope and
// the reserved protocol methods. The wire shape is JSON-RPC 2.0 compatible
// (id, method, params, result, error{code,message,data}); an envelope is
// produced by a Codec (codec.Codec) from a Frame's payload and consumed the
// same way in reverse — this package never touches bytes directly.
package wireproto

import "strings"

// MessageKind identifies which of the three envelope shapes a Message
// carries.
type MessageKind uint8

const (
	MessageRequest MessageKind = iota
	MessageResponse
	MessageNotification
)

// ID is a request/response correlation id. The channel assigns these as
// small positive integers; it is typed as interface{} at the
// envelope level only because JSON-RPC allows string ids from foreign
// peers. The channel layer echoes a request's id back unchanged, and drops
// a response whose id is not an integer without resolving any pending
// request.
type ID = interface{}

// Message is the envelope that crosses the wire. Exactly one of the three
// shapes' fields: {Method,Params} for a request/notification (ID present for
// request, absent for notification), {Result,Err} for a response (ID
// always present, exactly one of Result|Err set).
type Message struct {
	ID     ID         `cbor:"id,omitempty" codec:"id,omitempty" json:"id,omitempty"`
	Method string     `cbor:"method,omitempty" codec:"method,omitempty" json:"method,omitempty"`
	Params *Value     `cbor:"params,omitempty" codec:"params,omitempty" json:"params,omitempty"`
	Result *Value     `cbor:"result,omitempty" codec:"result,omitempty" json:"result,omitempty"`
	Err    *WireError `cbor:"error,omitempty" codec:"error,omitempty" json:"error,omitempty"`
}

// WireError is the error shape carried by a Response.
type WireError struct {
	Code    int    `cbor:"code" codec:"code" json:"code"`
	Message string `cbor:"message" codec:"message" json:"message"`
	Data    *Value `cbor:"data,omitempty" codec:"data,omitempty" json:"data,omitempty"`
}

func (e *WireError) Error() string { return e.Message }

// Kind classifies the message into one of the three envelope shapes.
func (m *Message) Kind() MessageKind {
	switch {
	case m.Method != "" && m.ID != nil:
		return MessageRequest
	case m.Method != "" && m.ID == nil:
		return MessageNotification
	default:
		return MessageResponse
	}
}

// NewRequest builds a request envelope.
func NewRequest(id ID, method string, params Value) *Message {
	return &Message{ID: id, Method: method, Params: &params}
}

// NewNotification builds a notification envelope (no id, no reply).
func NewNotification(method string, params Value) *Message {
	return &Message{Method: method, Params: &params}
}

// NewResult builds a successful response envelope.
func NewResult(id ID, result Value) *Message {
	return &Message{ID: id, Result: &result}
}

// NewError builds an error response envelope.
func NewError(id ID, code int, message string, data *Value) *Message {
	return &Message{ID: id, Err: &WireError{Code: code, Message: message, Data: data}}
}

// IsReserved reports whether method is a protocol-reserved method: it
// begins and ends with "__". User handlers cannot register or emit these.
func IsReserved(method string) bool {
	return len(method) >= 4 && strings.HasPrefix(method, "__") && strings.HasSuffix(method, "__")
}
