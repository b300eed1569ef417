package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountersIncrementIndependently(t *testing.T) {
	c := New()
	c.IncRequestsTotal()
	c.IncRequestsTotal()
	c.IncRequestsSuccess()
	c.IncBackendTimeouts()
	c.IncConnectionsAccepted()

	snap := c.Snapshot()
	assert.Equal(t, int64(2), snap.RequestsTotal)
	assert.Equal(t, int64(1), snap.RequestsSuccess)
	assert.Equal(t, int64(0), snap.RequestsFailure)
	assert.Equal(t, int64(1), snap.BackendTimeouts)
	assert.Equal(t, int64(0), snap.BackendErrors)
	assert.Equal(t, int64(1), snap.ConnectionsAccepted)
}

func TestCountersAreSafeForConcurrentIncrement(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.IncRequestsTotal()
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(100), c.Snapshot().RequestsTotal)
}

func TestPerBackendTracksRequestsAndFailuresSeparately(t *testing.T) {
	c := New()
	c.RecordBackendRequest("b1", false)
	c.RecordBackendRequest("b1", true)
	c.RecordBackendRequest("b2", false)

	b1 := c.PerBackend("b1")
	assert.Equal(t, int64(2), b1.Requests)
	assert.Equal(t, int64(1), b1.Failures)

	b2 := c.PerBackend("b2")
	assert.Equal(t, int64(1), b2.Requests)
	assert.Equal(t, int64(0), b2.Failures)

	assert.Equal(t, BackendSnapshot{}, c.PerBackend("unknown"))
}
