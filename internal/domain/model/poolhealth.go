package model

import "time"

// PoolHealth is an aggregate view of the credential pool computed from the
// local snapshot.
type PoolHealth struct {
	Total     int
	Active    int
	Disabled  int
	Exhausted int
	Failing   int // credentials with a non-zero failure count

	Mode          LoadBalancingMode
	LastRefreshAt time.Time
}

// ComputePoolHealth derives pool counters from a credential list.
func ComputePoolHealth(creds []Credential) PoolHealth {
	h := PoolHealth{Total: len(creds)}
	for _, c := range creds {
		if c.Disabled {
			h.Disabled++
		} else {
			h.Active++
		}
		if c.Balance != nil && c.Balance.Exhausted() {
			h.Exhausted++
		}
		if c.FailureCount > 0 {
			h.Failing++
		}
	}
	return h
}
