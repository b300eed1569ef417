package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mir00r/edge-proxy/internal/domain"
	"github.com/mir00r/edge-proxy/internal/lb"
)

// fakeSender lets tests script per-call success/failure without a real H2 pool.
type fakeSender struct {
	statusCode int32
}

func (f *fakeSender) Send(_ context.Context, _ string, _ *http.Request) (*http.Response, error) {
	rec := httptest.NewRecorder()
	rec.WriteHeader(int(atomic.LoadInt32(&f.statusCode)))
	return rec.Result(), nil
}

func backendWithFastCheck(id string) *domain.Backend {
	return &domain.Backend{
		ID:      id,
		Address: "127.0.0.1:0",
		Weight:  1,
		HealthCheck: domain.HealthCheck{
			Path:             "/healthz",
			Interval:         5 * time.Millisecond,
			Timeout:          50 * time.Millisecond,
			FailureThreshold: 2,
			SuccessThreshold: 2,
			Cooldown:         10 * time.Millisecond,
		},
	}
}

func TestProberMarksBackendUnhealthyAfterRepeatedFailures(t *testing.T) {
	b := backendWithFastCheck("b1")
	pool := lb.NewPool("svc", domain.RouteMatch{Host: "example.com"}, domain.PolicyRoundRobin, []*domain.Backend{b})
	sender := &fakeSender{statusCode: http.StatusInternalServerError}
	pr := NewProber(pool, sender, nil)

	pr.Start()
	defer pr.Stop()

	require.Eventually(t, func() bool {
		return len(pool.HealthyIndices()) == 0
	}, time.Second, 2*time.Millisecond)
}

func TestProberRecoversBackendAfterSuccessesPostCooldown(t *testing.T) {
	b := backendWithFastCheck("b1")
	pool := lb.NewPool("svc", domain.RouteMatch{Host: "example.com"}, domain.PolicyRoundRobin, []*domain.Backend{b})
	sender := &fakeSender{statusCode: http.StatusInternalServerError}
	pr := NewProber(pool, sender, nil)

	pr.Start()
	defer pr.Stop()

	require.Eventually(t, func() bool {
		return len(pool.HealthyIndices()) == 0
	}, time.Second, 2*time.Millisecond)

	atomic.StoreInt32(&sender.statusCode, http.StatusOK)

	require.Eventually(t, func() bool {
		return len(pool.HealthyIndices()) == 1
	}, time.Second, 2*time.Millisecond)
}

func TestProberTreatsNoContentAsHealthy(t *testing.T) {
	b := backendWithFastCheck("b1")
	pool := lb.NewPool("svc", domain.RouteMatch{Host: "example.com"}, domain.PolicyRoundRobin, []*domain.Backend{b})
	sender := &fakeSender{statusCode: http.StatusNoContent}
	pr := NewProber(pool, sender, nil)

	pr.Start()
	defer pr.Stop()

	time.Sleep(30 * time.Millisecond)
	assert.Len(t, pool.HealthyIndices(), 1)
}

func TestProberTreatsRedirectAsUnhealthy(t *testing.T) {
	b := backendWithFastCheck("b1")
	pool := lb.NewPool("svc", domain.RouteMatch{Host: "example.com"}, domain.PolicyRoundRobin, []*domain.Backend{b})
	sender := &fakeSender{statusCode: http.StatusFound}
	pr := NewProber(pool, sender, nil)

	pr.Start()
	defer pr.Stop()

	require.Eventually(t, func() bool {
		return len(pool.HealthyIndices()) == 0
	}, time.Second, 2*time.Millisecond)
}
