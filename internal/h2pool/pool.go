// Package h2pool maintains one persistent HTTP/2 PRIOR_KNOWLEDGE connection
// per configured backend and bounds per-backend concurrency, per spec.md
// §4.6. Grounded on the teacher's internal/service/health_checker.go
// transport tuning (MaxIdleConnsPerHost, IdleConnTimeout), generalized from
// net/http's transport to golang.org/x/net/http2's cleartext transport since
// origins here are always plaintext HTTP/2.
package h2pool

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/sync/semaphore"

	"github.com/mir00r/edge-proxy/internal/perrors"
)

// DefaultDeadline is the per-attempt deadline Send enforces unless
// SetDeadline overrides it, per spec.md §4.6. The health prober also falls
// back to it when a backend's health check sets no timeout.
const DefaultDeadline = 2 * time.Second

// DefaultMaxConcurrent bounds in-flight requests to a single backend when no
// explicit limit is configured.
const DefaultMaxConcurrent = 64

// client is the pool's per-backend entry: a shared HTTP/2 transport plus the
// semaphore bounding concurrent requests to that one address.
type client struct {
	transport *http2.Transport
	sem       *semaphore.Weighted
}

// Pool is the proxy's backend-facing HTTP/2 client pool: one client per
// registered backend address, created lazily and reused for the process
// lifetime, per spec.md §4.6 ("one persistent connection per backend,
// dialed lazily on first use").
type Pool struct {
	mu      sync.RWMutex
	clients map[string]*client

	maxConcurrent int64
	deadline      time.Duration
}

// New creates an empty Pool. Backends are registered with Register before
// Send can route to them.
func New() *Pool {
	return &Pool{
		clients:       make(map[string]*client),
		maxConcurrent: DefaultMaxConcurrent,
		deadline:      DefaultDeadline,
	}
}

// Register installs (or replaces) the client for a backend address, dialing
// lazily: the *http2.Transport below opens no connection until first use.
func (p *Pool) Register(address string, maxConcurrent int64) {
	if maxConcurrent <= 0 {
		maxConcurrent = p.maxConcurrent
	}
	c := &client{
		transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				d := net.Dialer{}
				return d.DialContext(ctx, network, addr)
			},
		},
		sem: semaphore.NewWeighted(maxConcurrent),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.clients[address] = c
}

// Send round-trips req against the named backend address, enforcing the
// pool's per-attempt deadline and the backend's concurrency limit. Returns a
// *perrors.Error on any failure: UnknownBackend if address was never
// registered, BackendTimeout if the deadline elapses first, BackendTransport
// for any other RoundTrip failure.
func (p *Pool) Send(ctx context.Context, address string, req *http.Request) (*http.Response, error) {
	p.mu.RLock()
	c, ok := p.clients[address]
	p.mu.RUnlock()
	if !ok {
		return nil, perrors.New(perrors.UnknownBackend, "h2pool", "no client registered for "+address)
	}

	deadline := p.deadline
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, perrors.Wrap(perrors.BackendTimeout, "h2pool", err)
	}
	defer c.sem.Release(1)

	req = req.WithContext(ctx)
	resp, err := c.transport.RoundTrip(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, perrors.Wrap(perrors.BackendTimeout, "h2pool", ctx.Err())
		}
		return nil, perrors.Wrap(perrors.BackendTransport, "h2pool", err)
	}
	return resp, nil
}

// SetDeadline overrides the pool-wide per-attempt deadline (used by tests
// and by configuration that wants a non-default value).
func (p *Pool) SetDeadline(d time.Duration) {
	p.deadline = d
}

// Registered reports whether address has a client installed.
func (p *Pool) Registered(address string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.clients[address]
	return ok
}
