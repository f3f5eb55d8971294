package model

// Balance is the remote usage/limit pair for a credential.
type Balance struct {
	Usage float64
	Limit float64
}

// Remaining returns the unused portion of the limit, never negative.
func (b Balance) Remaining() float64 {
	if b.Usage >= b.Limit {
		return 0
	}
	return b.Limit - b.Usage
}

// PercentUsed returns usage as a percentage of the limit, clamped to [0, 100].
// A zero limit reports 100 so exhausted and unprovisioned accounts sort together.
func (b Balance) PercentUsed() float64 {
	if b.Limit <= 0 {
		return 100
	}
	pct := b.Usage / b.Limit * 100
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}

// Exhausted reports whether the credential has no remaining quota.
func (b Balance) Exhausted() bool {
	return b.Remaining() == 0
}
