// Package lb implements the per-pool load balancer: the health state machine
// (spec.md §4.4), the three selection policies, and the BackendPool that
// holds both. Grounded on the teacher's internal/service/strategies.go
// (atomic round-robin cursor, FNV hash helper) and
// internal/service/load_balancer.go (strategy-selection-by-config shape).
package lb

import (
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/mir00r/edge-proxy/internal/domain"
)

// HealthState is a backend's coarse health: Healthy or Unhealthy.
type HealthState int32

const (
	Healthy HealthState = iota
	Unhealthy
)

func (s HealthState) String() string {
	if s == Healthy {
		return "healthy"
	}
	return "unhealthy"
}

// TransitionEvent is emitted when a backend's health state flips.
type TransitionEvent int

const (
	NoTransition TransitionEvent = iota
	BecameUnhealthy
	BecameHealthy
)

// BackendState is the runtime health state of one backend, per spec.md §3's
// BackendState/HealthState entities. All transition-affecting mutation
// happens while the owning Pool's mutex is held (recordSuccess/recordFailure
// are called only from Pool methods); the atomic fields let readers of
// IsHealthy, State, ConsecutiveFailures and CooldownUntil observe them
// without taking that lock.
type BackendState struct {
	Backend *domain.Backend

	state               atomic.Int32
	consecutiveFailures atomic.Int32
	successes           atomic.Int32
	cooldownUntilUnix   atomic.Int64 // UnixNano; valid only while Unhealthy
}

// NewBackendState creates a BackendState starting Healthy.
func NewBackendState(b *domain.Backend) *BackendState {
	bs := &BackendState{Backend: b}
	bs.state.Store(int32(Healthy))
	return bs
}

// IsHealthy reports the current health state, lock-free.
func (bs *BackendState) IsHealthy() bool {
	return HealthState(bs.state.Load()) == Healthy
}

// State returns the current HealthState, lock-free.
func (bs *BackendState) State() HealthState {
	return HealthState(bs.state.Load())
}

// ConsecutiveFailures returns the current failure streak (only meaningful while Healthy).
func (bs *BackendState) ConsecutiveFailures() int {
	return int(bs.consecutiveFailures.Load())
}

// CooldownUntil returns the cooldown deadline (only meaningful while Unhealthy).
func (bs *BackendState) CooldownUntil() time.Time {
	ns := bs.cooldownUntilUnix.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// recordSuccess applies spec.md §4.4's success transition. Caller must hold
// the owning Pool's write lock.
func (bs *BackendState) recordSuccess(now time.Time) TransitionEvent {
	hc := bs.Backend.HealthCheck
	switch bs.State() {
	case Healthy:
		bs.consecutiveFailures.Store(0)
		return NoTransition
	default: // Unhealthy
		if now.Before(bs.CooldownUntil()) {
			return NoTransition
		}
		s := bs.successes.Add(1)
		if int(s) >= hc.SuccessThreshold {
			bs.state.Store(int32(Healthy))
			bs.consecutiveFailures.Store(0)
			bs.successes.Store(0)
			return BecameHealthy
		}
		return NoTransition
	}
}

// recordFailure applies spec.md §4.4's failure transition. Caller must hold
// the owning Pool's write lock.
func (bs *BackendState) recordFailure(now time.Time) TransitionEvent {
	hc := bs.Backend.HealthCheck
	switch bs.State() {
	case Healthy:
		f := bs.consecutiveFailures.Add(1)
		if int(f) >= hc.FailureThreshold {
			bs.state.Store(int32(Unhealthy))
			bs.cooldownUntilUnix.Store(now.Add(hc.Cooldown).UnixNano())
			bs.successes.Store(0)
			return BecameUnhealthy
		}
		return NoTransition
	default: // Unhealthy
		bs.cooldownUntilUnix.Store(now.Add(hc.Cooldown).UnixNano())
		bs.successes.Store(0)
		return NoTransition
	}
}

// Pool is the runtime form of a config.Upstream: ordered backend states plus
// the selected Policy. The backend list and every health transition are
// guarded by one mutex; the round-robin cursor is a separate atomic and the
// consistent-hash ring is rebuilt on each pick (spec.md §5: "each pool is shared between the listener and one
// health prober per backend; all mutation occurs under a pool-level mutex").
type Pool struct {
	Name   string
	Match  domain.RouteMatch
	Policy Policy

	mu       sync.Mutex
	backends []*BackendState
}

// NewPool builds a Pool from its static backends and a selection policy.
func NewPool(name string, match domain.RouteMatch, policyType domain.PolicyType, backends []*domain.Backend) *Pool {
	states := make([]*BackendState, len(backends))
	for i, b := range backends {
		states[i] = NewBackendState(b)
	}
	p := &Pool{Name: name, Match: match, backends: states}
	p.Policy = newPolicy(policyType, p)
	return p
}

// Backends returns all backend states in configured order.
func (p *Pool) Backends() []*BackendState {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*BackendState, len(p.backends))
	copy(out, p.backends)
	return out
}

// HealthyIndices returns the backend states currently Healthy, in configured
// order, per spec.md's "healthy_indices() returns only those with Healthy
// state" invariant.
func (p *Pool) HealthyIndices() []*BackendState {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*BackendState, 0, len(p.backends))
	for _, bs := range p.backends {
		if bs.IsHealthy() {
			out = append(out, bs)
		}
	}
	return out
}

// RecordSuccess applies a successful probe/response to the named backend.
func (p *Pool) RecordSuccess(backendID string, now time.Time) TransitionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, bs := range p.backends {
		if bs.Backend.ID == backendID {
			return bs.recordSuccess(now)
		}
	}
	return NoTransition
}

// RecordFailure applies a failed probe/response to the named backend.
func (p *Pool) RecordFailure(backendID string, now time.Time) TransitionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, bs := range p.backends {
		if bs.Backend.ID == backendID {
			return bs.recordFailure(now)
		}
	}
	return NoTransition
}

// Pick selects a backend using the pool's policy, given a key hint (used by
// the consistent-hash policy; ignored by the others).
func (p *Pool) Pick(key string) (*BackendState, bool) {
	return p.Policy.Pick(key)
}
