package listener

import (
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mir00r/edge-proxy/internal/bridge"
	"github.com/mir00r/edge-proxy/internal/h2pool"
	"github.com/mir00r/edge-proxy/internal/metrics"
	"github.com/mir00r/edge-proxy/internal/perrors"
	"github.com/mir00r/edge-proxy/internal/router"
	"github.com/mir00r/edge-proxy/pkg/logger"
)

// Dispatcher wires the router, per-pool load balancer, protocol bridge, and
// backend pool together into the single per-request pipeline spec.md §4
// describes: match a pool, pick a backend, translate the request, forward
// it, translate the response back. It implements http.Handler because
// quic-go's http3.Server already decodes QUIC/QPACK streams into standard
// *http.Request/http.ResponseWriter values.
type Dispatcher struct {
	table   *router.Table
	pool    *h2pool.Pool
	metrics *metrics.Counters
	log     *logger.Logger
}

// NewDispatcher builds a Dispatcher over an already-constructed routing
// table and backend pool.
func NewDispatcher(table *router.Table, pool *h2pool.Pool, m *metrics.Counters, log *logger.Logger) *Dispatcher {
	return &Dispatcher{table: table, pool: pool, metrics: m, log: log}
}

// ServeHTTP implements the full dispatch pipeline for one request.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.metrics.IncRequestsTotal()

	requestID := uuid.NewString()
	env := NewRequestEnvelope(r, time.Now())

	target, ok := d.table.Match(env.Authority, env.Path)
	if !ok {
		d.fail(w, r, requestID, perrors.New(perrors.RouteMiss, "dispatch", "no pool matches "+env.Authority+env.Path))
		return
	}

	backend, ok := target.Pick(routingKey(env))
	if !ok {
		d.fail(w, r, requestID, perrors.New(perrors.NoHealthyBackend, "dispatch", "no healthy backend in pool "+target.Name))
		return
	}

	req, err := bridge.BuildBackendRequest(r.Context(), backend.Backend.Address, env.Method, env.Path, env.Authority, env.Header, env.Body, env.ContentLength)
	if err != nil {
		d.fail(w, r, requestID, err)
		return
	}

	resp, err := d.pool.Send(r.Context(), backend.Backend.Address, req)
	if err != nil {
		if pe, ok := err.(*perrors.Error); !ok || pe.Code != perrors.UnknownBackend {
			target.RecordFailure(backend.Backend.ID, time.Now())
		}
		d.metrics.RecordBackendRequest(backend.Backend.ID, true)
		d.countTransportFailure(err)
		d.fail(w, r, requestID, err)
		return
	}
	defer resp.Body.Close()

	// spec.md §7: a 2xx origin status records a health success; requests_success
	// counts any status below 500, requests_failure counts 5xx; neither
	// health state transitions on a 4xx response.
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		target.RecordSuccess(backend.Backend.ID, time.Now())
	}
	if resp.StatusCode >= 500 {
		d.metrics.RecordBackendRequest(backend.Backend.ID, true)
		d.metrics.IncRequestsFailure()
	} else {
		d.metrics.RecordBackendRequest(backend.Backend.ID, false)
		d.metrics.IncRequestsSuccess()
	}

	d.log.RequestLogger(requestID, env.Method, env.Path, env.RemoteAddr).
		WithField("backend_id", backend.Backend.ID).
		WithField("status", resp.StatusCode).Debug("request forwarded")

	outHeader := w.Header()
	for k, vv := range bridge.CopyResponseHeaders(resp) {
		outHeader[k] = vv
	}
	w.WriteHeader(resp.StatusCode)

	body := bridge.LimitResponseBody(resp.Body)
	if _, err := io.Copy(w, body); err != nil {
		d.log.BridgeLogger().WithError(err).Warn("response body truncated or failed mid-copy")
	}
}

func (d *Dispatcher) countTransportFailure(err error) {
	if pe, ok := err.(*perrors.Error); ok && pe.Code == perrors.BackendTimeout {
		d.metrics.IncBackendTimeouts()
		return
	}
	d.metrics.IncBackendErrors()
}

// fail synthesizes an error response on the client stream, per spec.md §7's
// error-kind-to-status mapping, and counts the request as failed.
func (d *Dispatcher) fail(w http.ResponseWriter, r *http.Request, requestID string, err error) {
	d.metrics.IncRequestsFailure()
	status := perrors.StatusCode(err)
	d.log.RequestLogger(requestID, r.Method, r.URL.Path, r.RemoteAddr).WithError(err).Warn("request failed")
	http.Error(w, err.Error(), status)
}

// routingKey picks the key the consistent-hash policy hashes on, per
// spec.md §4.4: the request's authority, falling back to its path and then
// its method when authority is empty.
func routingKey(env RequestEnvelope) string {
	if env.Authority != "" {
		return env.Authority
	}
	if env.Path != "" {
		return env.Path
	}
	return env.Method
}
