// Package domain holds the proxy's core value types: the static description
// of a backend and its health-check policy, and the route-matching criteria
// attached to a named upstream pool. These are framework-free, mirroring the
// teacher's internal/domain package, and are shared by internal/config (which
// builds them from YAML) and internal/lb (which mutates their runtime state).
package domain

import "time"

// RouteMatch is the host/path-prefix criteria a pool is selected by.
// At least one of Host or PathPrefix must be set (internal/config validates this).
type RouteMatch struct {
	Host       string
	PathPrefix string
}

// HealthCheck holds the per-backend probe policy.
type HealthCheck struct {
	Path             string
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
}

// Backend is a single origin endpoint inside a pool.
type Backend struct {
	ID          string
	Address     string // host:port
	Weight      int
	HealthCheck HealthCheck
}

// PolicyType names a load-balancing algorithm.
type PolicyType string

const (
	PolicyRandom         PolicyType = "random"
	PolicyRoundRobin     PolicyType = "round_robin"
	PolicyConsistentHash PolicyType = "consistent_hash"
)

// Metrics is the narrow sink the data plane writes its six counters through.
// Implemented by internal/metrics.Counters.
type Metrics interface {
	IncRequestsTotal()
	IncRequestsSuccess()
	IncRequestsFailure()
	IncBackendTimeouts()
	IncBackendErrors()
	IncConnectionsAccepted()
}
