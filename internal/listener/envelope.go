package listener

import (
	"io"
	"net/http"
	"time"
)

// RequestEnvelope captures the fields of an inbound request that the rest of
// the pipeline (router, bridge, logging) cares about, decoupled from the
// concrete *http.Request the HTTP/3 server handed us, per spec.md §4.2's
// "decoded request" entity.
type RequestEnvelope struct {
	Method    string
	Path      string
	Authority string
	Header    http.Header
	Body      io.ReadCloser

	ContentLength int64
	RemoteAddr    string
	CreatedAt     time.Time
}

// NewRequestEnvelope builds an envelope from the request the HTTP/3 server
// decoded off the wire (quic-go's http3 package already exposes QUIC/QPACK
// streams as a standard *http.Request, so no manual frame parsing is
// needed here).
func NewRequestEnvelope(r *http.Request, now time.Time) RequestEnvelope {
	return RequestEnvelope{
		Method:        r.Method,
		Path:          r.URL.Path,
		Authority:     r.Host,
		Header:        r.Header,
		Body:          r.Body,
		ContentLength: r.ContentLength,
		RemoteAddr:    r.RemoteAddr,
		CreatedAt:     now,
	}
}
