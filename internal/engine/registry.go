package engine

import (
	"sort"

	"alerttrader/internal/broker"
	"alerttrader/internal/domain"
)

// Registry maps broker types to clients. It is built once at startup and
// read concurrently afterwards.
type Registry struct {
	clients  map[domain.BrokerType]broker.Client
	override broker.Client
}

// NewRegistry registers each client under its Name.
func NewRegistry(clients ...broker.Client) *Registry {
	r := &Registry{clients: make(map[domain.BrokerType]broker.Client, len(clients))}
	for _, c := range clients {
		r.clients[c.Name()] = c
	}
	return r
}

// RouteAll sends every registered broker type to c. Paper mode uses it to
// keep credential validation while trading against the simulator.
func (r *Registry) RouteAll(c broker.Client) {
	r.override = c
}

// Resolve returns the client for t, or a validation error for an unknown
// broker type.
func (r *Registry) Resolve(t domain.BrokerType) (broker.Client, error) {
	if c, ok := r.clients[t]; ok {
		if r.override != nil {
			return r.override, nil
		}
		return c, nil
	}
	return nil, domain.NewError(domain.KindValidation, "invalid service", map[string]any{"broker_type": string(t)})
}

// Types lists the registered broker types in sorted order.
func (r *Registry) Types() []domain.BrokerType {
	out := make([]domain.BrokerType, 0, len(r.clients))
	for t := range r.clients {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
