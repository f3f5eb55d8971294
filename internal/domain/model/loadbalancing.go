package model

// LoadBalancingMode selects how the upstream service spreads requests across
// the credential pool.
type LoadBalancingMode string

const (
	// LoadBalancingPriority always drains the highest-priority healthy
	// credential before moving to the next.
	LoadBalancingPriority LoadBalancingMode = "priority"
	// LoadBalancingRoundRobin rotates through healthy credentials per request.
	LoadBalancingRoundRobin LoadBalancingMode = "round-robin"
)

// Valid reports whether m is one of the known modes.
func (m LoadBalancingMode) Valid() bool {
	return m == LoadBalancingPriority || m == LoadBalancingRoundRobin
}
