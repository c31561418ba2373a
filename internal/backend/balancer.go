package backend

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/vortexgw/vortex/internal/config"
	"github.com/vortexgw/vortex/internal/util"
)

// balancer picks one host from a non-empty candidate set.
type balancer interface {
	pick(hosts []*Host) *Host
}

func newBalancer(policy string) (balancer, error) {
	switch policy {
	case "", config.PolicyRoundRobin:
		return &roundRobinBalancer{}, nil
	case config.PolicyWeightedRandom:
		return &weightedRandomBalancer{}, nil
	case config.PolicyRandom:
		return &randomBalancer{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown balancing policy %q", util.ErrConfigInvalid, policy)
	}
}

// roundRobinBalancer cycles through the candidate set. The counter is
// shared across calls, so a shrinking candidate set stays fair.
type roundRobinBalancer struct {
	current atomic.Uint64
}

func (b *roundRobinBalancer) pick(hosts []*Host) *Host {
	idx := b.current.Add(1) - 1
	return hosts[idx%uint64(len(hosts))]
}

// weightedRandomBalancer picks proportionally to host weights.
type weightedRandomBalancer struct{}

func (b *weightedRandomBalancer) pick(hosts []*Host) *Host {
	total := 0
	for _, h := range hosts {
		total += h.Weight
	}

	r := secureRandomInt(total)
	for _, h := range hosts {
		r -= h.Weight
		if r < 0 {
			return h
		}
	}
	return hosts[len(hosts)-1]
}

// randomBalancer picks uniformly.
type randomBalancer struct{}

func (b *randomBalancer) pick(hosts []*Host) *Host {
	return hosts[secureRandomInt(len(hosts))]
}

// secureRandomInt returns a cryptographically secure random int in [0, n).
func secureRandomInt(n int) int {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	// Safe conversion: result of modulo is always < n, which fits in int
	return int(binary.LittleEndian.Uint64(b[:]) % uint64(n)) //nolint:gosec // bounds checked
}
