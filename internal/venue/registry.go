package venue

import (
	"fmt"
	"math/rand"
)

// Registry holds the connected venues in registration order.
type Registry struct {
	names    []string
	gateways map[string]Gateway
}

func NewRegistry() *Registry {
	return &Registry{gateways: make(map[string]Gateway)}
}

func (r *Registry) Register(gw Gateway) error {
	name := gw.Name()
	if name == "" {
		return fmt.Errorf("venue name required")
	}
	if _, ok := r.gateways[name]; ok {
		return fmt.Errorf("venue %s already registered", name)
	}
	r.gateways[name] = gw
	r.names = append(r.names, name)
	return nil
}

func (r *Registry) Get(name string) (Gateway, bool) {
	gw, ok := r.gateways[name]
	return gw, ok
}

func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

func (r *Registry) Len() int { return len(r.names) }

// SamplePair picks the two venues to hedge across: with exactly two venues
// registered both are used, with more a random two are drawn.
func (r *Registry) SamplePair(rng *rand.Rand) (Gateway, Gateway, error) {
	if len(r.names) < 2 {
		return nil, nil, fmt.Errorf("need at least 2 venues, have %d", len(r.names))
	}
	if len(r.names) == 2 {
		return r.gateways[r.names[0]], r.gateways[r.names[1]], nil
	}
	i := rng.Intn(len(r.names))
	j := rng.Intn(len(r.names) - 1)
	if j >= i {
		j++
	}
	return r.gateways[r.names[i]], r.gateways[r.names[j]], nil
}

func (r *Registry) All() []Gateway {
	out := make([]Gateway, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.gateways[name])
	}
	return out
}
