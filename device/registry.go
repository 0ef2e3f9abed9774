package device

import (
	"fmt"

	"github.com/puzpuzpuz/xsync/v4"
)

// Registry maps bus names to the Opener that serves them. Buses without a
// registered Opener go to the fallback. A Registry is itself an [Opener].
type Registry struct {
	openers  *xsync.Map[string, Opener]
	fallback Opener
}

// NewRegistry returns an empty registry. fallback may be nil, in which case
// unregistered buses fail to open.
func NewRegistry(fallback Opener) *Registry {
	return &Registry{
		openers:  xsync.NewMap[string, Opener](),
		fallback: fallback,
	}
}

// Register ties an Opener to a bus name. The first registration for a name
// wins; it reports whether o was stored.
func (r *Registry) Register(bus string, o Opener) bool {
	_, loaded := r.openers.LoadOrStore(bus, o)
	return !loaded
}

// Lookup returns the Opener for bus
func (r *Registry) Lookup(bus string) (Opener, error) {
	if o, ok := r.openers.Load(bus); ok {
		return o, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("no opener for bus %q", bus)
}

func (r *Registry) Open(bus string, addr uint16) (Conn, error) {
	o, err := r.Lookup(bus)
	if err != nil {
		return nil, err
	}
	return o.Open(bus, addr)
}

// NewBuiltinRegistry serves [SimBus] from the simulator and every other bus
// through periph.io
func NewBuiltinRegistry() *Registry {
	r := NewRegistry(PeriphOpener{})
	r.Register(SimBus, SimOpener{})
	return r
}

var _ Opener = (*Registry)(nil)
