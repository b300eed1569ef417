package lb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mir00r/edge-proxy/internal/domain"
)

func testBackend(id string) *domain.Backend {
	return &domain.Backend{
		ID:      id,
		Address: "127.0.0.1:9000",
		Weight:  1,
		HealthCheck: domain.HealthCheck{
			FailureThreshold: 3,
			SuccessThreshold: 2,
			Cooldown:         10 * time.Second,
		},
	}
}

func TestBackendStateStartsHealthy(t *testing.T) {
	bs := NewBackendState(testBackend("b1"))
	assert.True(t, bs.IsHealthy())
	assert.Equal(t, Healthy, bs.State())
}

func TestRecordFailureBelowThresholdStaysHealthy(t *testing.T) {
	bs := NewBackendState(testBackend("b1"))
	now := time.Now()

	ev := bs.recordFailure(now)
	assert.Equal(t, NoTransition, ev)
	ev = bs.recordFailure(now)
	assert.Equal(t, NoTransition, ev)
	assert.True(t, bs.IsHealthy())
	assert.Equal(t, 2, bs.ConsecutiveFailures())
}

func TestRecordFailureAtThresholdBecomesUnhealthy(t *testing.T) {
	bs := NewBackendState(testBackend("b1"))
	now := time.Now()

	bs.recordFailure(now)
	bs.recordFailure(now)
	ev := bs.recordFailure(now)

	require.Equal(t, BecameUnhealthy, ev)
	assert.False(t, bs.IsHealthy())
	assert.True(t, bs.CooldownUntil().After(now))
}

func TestRecordSuccessWhileHealthyResetsFailureStreak(t *testing.T) {
	bs := NewBackendState(testBackend("b1"))
	now := time.Now()

	bs.recordFailure(now)
	bs.recordFailure(now)
	ev := bs.recordSuccess(now)

	assert.Equal(t, NoTransition, ev)
	assert.Equal(t, 0, bs.ConsecutiveFailures())
}

func TestRecordSuccessDuringCooldownIsIgnored(t *testing.T) {
	bs := NewBackendState(testBackend("b1"))
	now := time.Now()
	bs.recordFailure(now)
	bs.recordFailure(now)
	bs.recordFailure(now) // -> Unhealthy, cooldown 10s

	ev := bs.recordSuccess(now.Add(1 * time.Second)) // still inside cooldown
	assert.Equal(t, NoTransition, ev)
	assert.False(t, bs.IsHealthy())
}

func TestRecordSuccessAfterCooldownRequiresSuccessThreshold(t *testing.T) {
	bs := NewBackendState(testBackend("b1"))
	now := time.Now()
	bs.recordFailure(now)
	bs.recordFailure(now)
	bs.recordFailure(now) // -> Unhealthy

	past := now.Add(11 * time.Second) // cooldown elapsed
	ev := bs.recordSuccess(past)
	assert.Equal(t, NoTransition, ev)
	assert.False(t, bs.IsHealthy())

	ev = bs.recordSuccess(past.Add(time.Millisecond))
	assert.Equal(t, BecameHealthy, ev)
	assert.True(t, bs.IsHealthy())
	assert.Equal(t, 0, bs.ConsecutiveFailures())
}

func TestRecordFailureDuringCooldownExtendsCooldown(t *testing.T) {
	bs := NewBackendState(testBackend("b1"))
	now := time.Now()
	bs.recordFailure(now)
	bs.recordFailure(now)
	bs.recordFailure(now) // -> Unhealthy, cooldown_until = now+10s

	first := bs.CooldownUntil()
	ev := bs.recordFailure(now.Add(5 * time.Second))
	assert.Equal(t, NoTransition, ev)
	assert.True(t, bs.CooldownUntil().After(first))
}

func TestPoolHealthyIndicesExcludesUnhealthy(t *testing.T) {
	b1, b2 := testBackend("b1"), testBackend("b2")
	p := NewPool("svc", domain.RouteMatch{Host: "example.com"}, domain.PolicyRoundRobin, []*domain.Backend{b1, b2})

	now := time.Now()
	p.RecordFailure("b1", now)
	p.RecordFailure("b1", now)
	p.RecordFailure("b1", now) // b1 -> Unhealthy

	healthy := p.HealthyIndices()
	require.Len(t, healthy, 1)
	assert.Equal(t, "b2", healthy[0].Backend.ID)
}

func TestPoolPickReturnsFalseWhenAllUnhealthy(t *testing.T) {
	b1 := testBackend("b1")
	p := NewPool("svc", domain.RouteMatch{Host: "example.com"}, domain.PolicyRandom, []*domain.Backend{b1})

	now := time.Now()
	p.RecordFailure("b1", now)
	p.RecordFailure("b1", now)
	p.RecordFailure("b1", now)

	_, ok := p.Pick("any-key")
	assert.False(t, ok)
}
