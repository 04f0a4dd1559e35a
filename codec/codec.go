// Package codec defines the serialization contract consumed by the
// protocol layer. The core never depends on a concrete codec; it only
// resolves one by name through a Registry, which is always explicitly
// constructed and passed in rather than reached for as global state — a
// default singleton exists only as a convenience for callers that don't
// need to customize it.
package codec

import "fmt"

// Codec turns a structured value (a *wireproto.Message) into bytes and
// back. Concrete codecs (codec/cborcodec, codec/msgpackcodec, codec/
// jsoncodec) are external collaborators; this package only names the
// contract.
type Codec interface {
	Name() string
	ContentType() string
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// Registry resolves a codec by the name negotiated in a handshake's
// data_channel.serialization field. It is always explicitly constructed;
// defaultregistry.Get is a convenience, not a requirement.
type Registry struct {
	codecs map[string]Codec
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]Codec)}
}

// Register adds or replaces a codec under its own Name().
func (r *Registry) Register(c Codec) {
	r.codecs[c.Name()] = c
}

// Resolve looks up a codec by name.
func (r *Registry) Resolve(name string) (Codec, error) {
	c, ok := r.codecs[name]
	if !ok {
		return nil, fmt.Errorf("codec: no codec registered for %q", name)
	}
	return c, nil
}

// Names returns the registered codec names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.codecs))
	for n := range r.codecs {
		names = append(names, n)
	}
	return names
}
