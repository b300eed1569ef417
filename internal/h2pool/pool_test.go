package h2pool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mir00r/edge-proxy/internal/perrors"
)

func newH2CServer(handler http.Handler) *httptest.Server {
	h2s := &http2.Server{}
	srv := httptest.NewServer(h2c.NewHandler(handler, h2s))
	return srv
}

func TestSendUnknownBackendReturnsError(t *testing.T) {
	p := New()
	req, _ := http.NewRequest(http.MethodGet, "http://127.0.0.1:1/", nil)

	_, err := p.Send(context.Background(), "127.0.0.1:1", req)
	require.Error(t, err)
	var pe *perrors.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, perrors.UnknownBackend, pe.Code)
}

func TestSendRoundTripsSuccessfully(t *testing.T) {
	srv := newH2CServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	address := srv.Listener.Addr().String()
	p := New()
	p.Register(address, 0)

	req, _ := http.NewRequest(http.MethodGet, "http://"+address+"/", nil)
	resp, err := p.Send(context.Background(), address, req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSendTimesOutWhenBackendIsSlow(t *testing.T) {
	srv := newH2CServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	address := srv.Listener.Addr().String()
	p := New()
	p.SetDeadline(20 * time.Millisecond)
	p.Register(address, 0)

	req, _ := http.NewRequest(http.MethodGet, "http://"+address+"/", nil)
	_, err := p.Send(context.Background(), address, req)
	require.Error(t, err)
	var pe *perrors.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, perrors.BackendTimeout, pe.Code)
}
