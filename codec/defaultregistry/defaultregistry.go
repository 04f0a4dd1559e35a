// Package defaultregistry provides the process-wide convenience
// codec.Registry seeded with all three reference codecs. The core never
// depends on this package directly — it always takes an explicit
// *codec.Registry — this exists only so a worker or manager binary that
// does not care about customizing codecs has a one-line default.
package defaultregistry

import (
	"sync"

	"github.com/vela-systems/workerbus/codec"
	"github.com/vela-systems/workerbus/codec/cborcodec"
	"github.com/vela-systems/workerbus/codec/jsoncodec"
	"github.com/vela-systems/workerbus/codec/msgpackcodec"
)

var (
	once sync.Once
	reg  *codec.Registry
)

// Get returns the default registry, seeded with the cbor, msgpack and json
// reference codecs on first use.
func Get() *codec.Registry {
	once.Do(func() {
		reg = codec.NewRegistry()
		reg.Register(cborcodec.New())
		reg.Register(msgpackcodec.New())
		reg.Register(jsoncodec.New())
	})
	return reg
}
