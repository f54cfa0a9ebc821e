package triage

import (
	"errors"
	"fmt"
)

// ResourcePool is an ordered list of care resources split into one
// contiguous band per tier. The pool holds no rotation state.
type ResourcePool struct {
	ids   []string
	bands [4]band
}

type band struct {
	start int
	size  int
}

// NewResourcePool builds a pool from per-tier bands, laid out in tier order
func NewResourcePool(critical, serious, moderate, normal []string) (*ResourcePool, error) {
	p := &ResourcePool{}
	for i, ids := range [][]string{critical, serious, moderate, normal} {
		if len(ids) == 0 {
			return nil, fmt.Errorf("resource band for %s is empty", Tiers[i])
		}
		p.bands[i] = band{start: len(p.ids), size: len(ids)}
		p.ids = append(p.ids, ids...)
	}
	return p, nil
}

// DefaultResourcePool returns the reference staffing: one dedicated
// critical-care doctor and three doctors for each remaining tier.
func DefaultResourcePool() *ResourcePool {
	p, err := NewResourcePool(
		[]string{"Dr. Smith"},
		[]string{"Dr. Johnson", "Dr. Williams", "Dr. Davis"},
		[]string{"Dr. Miller", "Dr. Anderson", "Dr. Thomas"},
		[]string{"Dr. Garcia", "Dr. Martinez", "Dr. Rodriguez"},
	)
	if err != nil {
		panic(err)
	}
	return p
}

// Assign picks the resource for an admission of the given tier.
// Critical always gets the first resource of its band; other tiers rotate
// through their band by the caller's rotation counter.
func (p *ResourcePool) Assign(tier SeverityTier, rotation uint64) (string, error) {
	if !tier.Valid() {
		return "", errors.New("invalid severity tier")
	}
	b := p.bands[tier-1]
	if tier == TierCritical {
		return p.ids[b.start], nil
	}
	return p.ids[b.start+int(rotation%uint64(b.size))], nil
}

// Band returns a copy of the resources assigned to a tier
func (p *ResourcePool) Band(tier SeverityTier) []string {
	if !tier.Valid() {
		return nil
	}
	b := p.bands[tier-1]
	out := make([]string, b.size)
	copy(out, p.ids[b.start:b.start+b.size])
	return out
}

// Size returns the total number of resources
func (p *ResourcePool) Size() int { return len(p.ids) }
