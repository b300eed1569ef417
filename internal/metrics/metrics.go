// Package metrics implements the proxy's six process-wide counters, kept as
// plain in-memory values with no wire exposition (an explicit spec.md
// Non-goal). Grounded on the teacher's internal/service/metrics.go atomic
// counter shape, trimmed from its per-backend latency-bucket detail down to
// the six counters spec.md §5 names; an additive per-backend snapshot is
// kept for local introspection (logging, tests), not for wire exposure.
package metrics

import (
	"sync"

	"go.uber.org/atomic"
)

// Counters implements domain.Metrics with six relaxed atomic counters.
type Counters struct {
	requestsTotal       atomic.Int64
	requestsSuccess     atomic.Int64
	requestsFailure     atomic.Int64
	backendTimeouts     atomic.Int64
	backendErrors       atomic.Int64
	connectionsAccepted atomic.Int64

	mu         sync.RWMutex
	perBackend map[string]*backendCounters
}

type backendCounters struct {
	requests atomic.Int64
	failures atomic.Int64
}

// New creates a zeroed Counters.
func New() *Counters {
	return &Counters{perBackend: make(map[string]*backendCounters)}
}

func (c *Counters) IncRequestsTotal()       { c.requestsTotal.Inc() }
func (c *Counters) IncRequestsSuccess()     { c.requestsSuccess.Inc() }
func (c *Counters) IncRequestsFailure()     { c.requestsFailure.Inc() }
func (c *Counters) IncBackendTimeouts()     { c.backendTimeouts.Inc() }
func (c *Counters) IncBackendErrors()       { c.backendErrors.Inc() }
func (c *Counters) IncConnectionsAccepted() { c.connectionsAccepted.Inc() }

// Snapshot is a point-in-time read of the six process-wide counters.
type Snapshot struct {
	RequestsTotal       int64
	RequestsSuccess     int64
	RequestsFailure     int64
	BackendTimeouts     int64
	BackendErrors       int64
	ConnectionsAccepted int64
}

// Snapshot reads all six counters.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		RequestsTotal:       c.requestsTotal.Load(),
		RequestsSuccess:     c.requestsSuccess.Load(),
		RequestsFailure:     c.requestsFailure.Load(),
		BackendTimeouts:     c.backendTimeouts.Load(),
		BackendErrors:       c.backendErrors.Load(),
		ConnectionsAccepted: c.connectionsAccepted.Load(),
	}
}

// BackendSnapshot is the additive per-backend detail described in
// SPEC_FULL.md §5: request and failure counts attributed to one backend ID,
// useful for logging and diagnostics but never exposed over the wire.
type BackendSnapshot struct {
	Requests int64
	Failures int64
}

// RecordBackendRequest attributes one request, and optionally one failure,
// to a backend ID. Called from the bridge/dispatch path, not from the wire.
func (c *Counters) RecordBackendRequest(backendID string, failed bool) {
	c.mu.RLock()
	bc, ok := c.perBackend[backendID]
	c.mu.RUnlock()
	if !ok {
		c.mu.Lock()
		bc, ok = c.perBackend[backendID]
		if !ok {
			bc = &backendCounters{}
			c.perBackend[backendID] = bc
		}
		c.mu.Unlock()
	}
	bc.requests.Inc()
	if failed {
		bc.failures.Inc()
	}
}

// PerBackend returns a snapshot for one backend ID, or the zero value if
// nothing has been recorded for it yet.
func (c *Counters) PerBackend(backendID string) BackendSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bc, ok := c.perBackend[backendID]
	if !ok {
		return BackendSnapshot{}
	}
	return BackendSnapshot{Requests: bc.requests.Load(), Failures: bc.failures.Load()}
}
