package lb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mir00r/edge-proxy/internal/domain"
)

func weightedBackend(id string, weight int) *domain.Backend {
	b := testBackend(id)
	b.Weight = weight
	return b
}

func TestRoundRobinCyclesEvenlyAcrossHealthyBackends(t *testing.T) {
	b1, b2, b3 := testBackend("b1"), testBackend("b2"), testBackend("b3")
	p := NewPool("svc", domain.RouteMatch{Host: "example.com"}, domain.PolicyRoundRobin,
		[]*domain.Backend{b1, b2, b3})

	counts := map[string]int{}
	for i := 0; i < 300; i++ {
		bs, ok := p.Pick("")
		require.True(t, ok)
		counts[bs.Backend.ID]++
	}
	assert.Equal(t, 100, counts["b1"])
	assert.Equal(t, 100, counts["b2"])
	assert.Equal(t, 100, counts["b3"])
}

func TestRoundRobinSkipsUnhealthyBackend(t *testing.T) {
	b1, b2 := testBackend("b1"), testBackend("b2")
	p := NewPool("svc", domain.RouteMatch{Host: "example.com"}, domain.PolicyRoundRobin,
		[]*domain.Backend{b1, b2})

	p.RecordFailure("b1", time.Now())
	p.RecordFailure("b1", time.Now())
	p.RecordFailure("b1", time.Now())

	for i := 0; i < 10; i++ {
		bs, ok := p.Pick("")
		require.True(t, ok)
		assert.Equal(t, "b2", bs.Backend.ID)
	}
}

func TestConsistentHashIsStableForSameKey(t *testing.T) {
	b1, b2, b3 := testBackend("b1"), testBackend("b2"), testBackend("b3")
	p := NewPool("svc", domain.RouteMatch{Host: "example.com"}, domain.PolicyConsistentHash,
		[]*domain.Backend{b1, b2, b3})

	first, ok := p.Pick("client-192.0.2.10")
	require.True(t, ok)
	for i := 0; i < 20; i++ {
		again, ok := p.Pick("client-192.0.2.10")
		require.True(t, ok)
		assert.Equal(t, first.Backend.ID, again.Backend.ID)
	}
}

func TestConsistentHashRedistributesOnlyAffectedKeysWhenABackendLeaves(t *testing.T) {
	b1, b2, b3 := testBackend("b1"), testBackend("b2"), testBackend("b3")
	p := NewPool("svc", domain.RouteMatch{Host: "example.com"}, domain.PolicyConsistentHash,
		[]*domain.Backend{b1, b2, b3})

	keys := []string{"k1", "k2", "k3", "k4", "k5", "k6", "k7", "k8"}
	before := map[string]string{}
	for _, k := range keys {
		bs, ok := p.Pick(k)
		require.True(t, ok)
		before[k] = bs.Backend.ID
	}

	p.RecordFailure("b1", time.Now())
	p.RecordFailure("b1", time.Now())
	p.RecordFailure("b1", time.Now())

	moved := 0
	for _, k := range keys {
		bs, ok := p.Pick(k)
		require.True(t, ok)
		if before[k] != bs.Backend.ID {
			moved++
		}
		if before[k] != "b1" {
			assert.Equal(t, before[k], bs.Backend.ID, "key %s was not on b1 and must not move", k)
		}
		assert.NotEqual(t, "b1", bs.Backend.ID)
	}
	assert.Less(t, moved, len(keys))
}

func TestConsistentHashHigherWeightGetsMoreReplicas(t *testing.T) {
	b1 := weightedBackend("b1", 1)
	b2 := weightedBackend("b2", 4)
	p := &Pool{Name: "svc"}
	chp := &consistentHashPolicy{pool: p}

	heavy := NewBackendState(b2)
	light := NewBackendState(b1)
	ring := chp.buildRing([]*BackendState{light, heavy})

	counts := map[string]int{}
	for _, e := range ring {
		counts[e.backend.Backend.ID]++
	}
	assert.Equal(t, baseReplicas, counts["b1"])
	assert.Equal(t, baseReplicas*4, counts["b2"])
}

func TestRandomPolicyOnlyReturnsHealthyBackends(t *testing.T) {
	b1, b2 := testBackend("b1"), testBackend("b2")
	p := NewPool("svc", domain.RouteMatch{Host: "example.com"}, domain.PolicyRandom,
		[]*domain.Backend{b1, b2})
	p.RecordFailure("b1", time.Now())
	p.RecordFailure("b1", time.Now())
	p.RecordFailure("b1", time.Now())

	for i := 0; i < 20; i++ {
		bs, ok := p.Pick("")
		require.True(t, ok)
		assert.Equal(t, "b2", bs.Backend.ID)
	}
}
