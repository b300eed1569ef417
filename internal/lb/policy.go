package lb

import (
	"hash/fnv"
	"math/rand"
	"sort"
	"strconv"

	"go.uber.org/atomic"

	"github.com/mir00r/edge-proxy/internal/domain"
)

// baseReplicas is the number of virtual nodes placed on the consistent-hash
// ring per unit of backend weight, per spec.md §4.4.
const baseReplicas = 64

// Policy selects one healthy backend from a pool for a given request key.
// The key is the consistent-hash routing key (the dispatcher passes the
// request's authority, else its path, else its method); Random and
// RoundRobin ignore it.
type Policy interface {
	Pick(key string) (*BackendState, bool)
}

func newPolicy(t domain.PolicyType, p *Pool) Policy {
	switch t {
	case domain.PolicyRoundRobin:
		return &roundRobinPolicy{pool: p}
	case domain.PolicyConsistentHash:
		return &consistentHashPolicy{pool: p}
	default:
		return &randomPolicy{pool: p}
	}
}

// randomPolicy picks uniformly at random among the healthy backends.
// Grounded on the teacher's strategies.go random-selection path.
type randomPolicy struct {
	pool *Pool
}

func (r *randomPolicy) Pick(_ string) (*BackendState, bool) {
	healthy := r.pool.HealthyIndices()
	if len(healthy) == 0 {
		return nil, false
	}
	return healthy[rand.Intn(len(healthy))], true
}

// roundRobinPolicy cycles through the healthy set with an atomic cursor.
// Grounded on the teacher's ThreadSafeRoundRobinStrategy in
// internal/service/strategies.go, which also keeps a lock-free cursor via
// atomic increment-and-mod.
type roundRobinPolicy struct {
	pool   *Pool
	cursor atomic.Uint64
}

func (r *roundRobinPolicy) Pick(_ string) (*BackendState, bool) {
	healthy := r.pool.HealthyIndices()
	if len(healthy) == 0 {
		return nil, false
	}
	n := r.cursor.Add(1)
	idx := int(n-1) % len(healthy)
	return healthy[idx], true
}

// ringEntry is one virtual node on the consistent-hash ring.
type ringEntry struct {
	hash    uint64
	backend *BackendState
}

// consistentHashPolicy maps a request key onto a ring of virtual nodes, one
// per (backend, replica) pair, replicas = baseReplicas * backend.Weight, per
// spec.md §4.4. The ring is rebuilt from the current healthy set on every
// pick so that a backend flipping Unhealthy immediately removes its virtual
// nodes rather than requiring an explicit rebuild hook.
//
// Hashing is FNV-1a 64-bit (hash/fnv's New64a), generalized from the
// teacher's 32-bit fnvHash helper in internal/service/strategies.go.
type consistentHashPolicy struct {
	pool *Pool
}

func fnv1a64(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

func (c *consistentHashPolicy) buildRing(healthy []*BackendState) []ringEntry {
	ring := make([]ringEntry, 0, len(healthy)*baseReplicas)
	for _, bs := range healthy {
		weight := bs.Backend.Weight
		if weight <= 0 {
			weight = 1
		}
		replicas := baseReplicas * weight
		for i := 0; i < replicas; i++ {
			key := bs.Backend.ID + "#" + strconv.Itoa(i)
			ring = append(ring, ringEntry{hash: fnv1a64(key), backend: bs})
		}
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i].hash < ring[j].hash })
	return ring
}

func (c *consistentHashPolicy) Pick(key string) (*BackendState, bool) {
	healthy := c.pool.HealthyIndices()
	if len(healthy) == 0 {
		return nil, false
	}
	ring := c.buildRing(healthy)
	if len(ring) == 0 {
		return nil, false
	}
	h := fnv1a64(key)
	idx := sort.Search(len(ring), func(i int) bool { return ring[i].hash >= h })
	if idx == len(ring) {
		idx = 0
	}
	return ring[idx].backend, true
}
