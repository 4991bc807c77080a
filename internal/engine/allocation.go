package engine

import (
	"alerttrader/internal/domain"
)

// AllocationPolicy decides what share of the available quote balance a buy
// spends. A positive credential override wins over the intent, which wins
// over the venue default.
type AllocationPolicy struct {
	defaults map[domain.BrokerType]float64
	fallback float64
}

// NewAllocationPolicy creates an AllocationPolicy with per-venue defaults and
// a fallback for venues without one.
//
//   - defaults: percent per broker type (e.g. 50 for 50%).
//   - fallback: percent used when a venue has no entry.
func NewAllocationPolicy(defaults map[domain.BrokerType]float64, fallback float64) *AllocationPolicy {
	d := make(map[domain.BrokerType]float64, len(defaults))
	for k, v := range defaults {
		d[k] = v
	}
	return &AllocationPolicy{defaults: d, fallback: fallback}
}

// Percent returns the allocation for intent against cred.
func (p *AllocationPolicy) Percent(cred domain.ServiceCredential, intent domain.OrderIntent) float64 {
	switch {
	case cred.AllocationPercent > 0:
		return cred.AllocationPercent
	case intent.AllocationPercent > 0:
		return intent.AllocationPercent
	}
	if p == nil {
		return 0
	}
	if v, ok := p.defaults[cred.BrokerType]; ok && v > 0 {
		return v
	}
	return p.fallback
}
