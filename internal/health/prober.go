// Package health runs the periodic per-backend probes that drive each
// backend's Healthy/Unhealthy state machine in internal/lb. Grounded on the
// teacher's internal/service/health_checker.go (healthCheckLoop's
// ticker + sync.WaitGroup + stopChan shutdown shape), generalized from one
// process-wide interval to each backend's own HealthCheck parameters and
// routed through internal/h2pool rather than a private *http.Client, so
// probes and data-plane traffic share the same backend connections.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/mir00r/edge-proxy/internal/h2pool"
	"github.com/mir00r/edge-proxy/internal/lb"
	"github.com/mir00r/edge-proxy/pkg/logger"
)

// Sender is the narrow interface Prober needs from the backend client pool.
type Sender interface {
	Send(ctx context.Context, address string, req *http.Request) (*http.Response, error)
}

// Prober periodically probes every backend in one Pool and feeds the result
// into that pool's health state machine.
type Prober struct {
	pool   *lb.Pool
	sender Sender
	log    *logger.Logger

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewProber creates a Prober for pool, sending probes through sender.
func NewProber(pool *lb.Pool, sender Sender, log *logger.Logger) *Prober {
	return &Prober{
		pool:     pool,
		sender:   sender,
		log:      log,
		stopChan: make(chan struct{}),
	}
}

// Start launches one probe loop per backend in the pool. Each loop runs on
// its own ticker because backends may configure different intervals.
func (pr *Prober) Start() {
	for _, bs := range pr.pool.Backends() {
		pr.wg.Add(1)
		go pr.loop(bs)
	}
}

// Stop signals every probe loop to exit and waits for them to finish.
func (pr *Prober) Stop() {
	pr.stopOnce.Do(func() { close(pr.stopChan) })
	pr.wg.Wait()
}

func (pr *Prober) loop(bs *lb.BackendState) {
	defer pr.wg.Done()

	hc := bs.Backend.HealthCheck
	interval := hc.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-pr.stopChan:
			return
		case <-ticker.C:
			pr.probeOnce(bs)
		}
	}
}

func (pr *Prober) probeOnce(bs *lb.BackendState) {
	hc := bs.Backend.HealthCheck
	timeout := hc.Timeout
	if timeout <= 0 {
		timeout = h2pool.DefaultDeadline
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	path := hc.Path
	if path == "" {
		path = "/"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+bs.Backend.Address+path, nil)
	if err != nil {
		pr.recordFailure(bs)
		return
	}

	resp, err := pr.sender.Send(ctx, bs.Backend.Address, req)
	if err != nil {
		pr.recordFailure(bs)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		pr.recordSuccess(bs)
	} else {
		pr.recordFailure(bs)
	}
}

func (pr *Prober) recordSuccess(bs *lb.BackendState) {
	ev := pr.pool.RecordSuccess(bs.Backend.ID, time.Now())
	if ev == lb.BecameHealthy && pr.log != nil {
		pr.log.HealthCheckLogger().WithField("backend_id", bs.Backend.ID).Info("backend became healthy")
	}
}

func (pr *Prober) recordFailure(bs *lb.BackendState) {
	ev := pr.pool.RecordFailure(bs.Backend.ID, time.Now())
	if ev == lb.BecameUnhealthy && pr.log != nil {
		pr.log.HealthCheckLogger().WithField("backend_id", bs.Backend.ID).Warn("backend became unhealthy")
	}
}
