// Package bridge translates between the HTTP/3 request the proxy accepts
// from a client and the HTTP/2 PRIOR_KNOWLEDGE request it sends to a
// backend, and back again for the response, per spec.md §4.6. Grounded on
// fabian4-gateway-homebrew-go's internal/proxy/http1.go (dropHopByHop,
// cloneHeader, copyHeaders), generalized to the spec's exact hop-by-hop list
// and Content-Length recompute rule.
package bridge

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/mir00r/edge-proxy/internal/perrors"
)

// MaxBodyBytes is the buffering limit applied to both request and response
// bodies while bridging protocols, per spec.md §4.6.
const MaxBodyBytes = 64 * 1024

// hopByHop lists the headers that must never cross a hop, per RFC 7230 §6.1
// plus the QUIC/HTTP2-specific additions spec.md names.
var hopByHop = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Connection":    {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Te":                  {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Trailer":             {},
}

// cloneHeader copies src into a fresh http.Header, dropping every hop-by-hop
// field.
func cloneHeader(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for k, vv := range src {
		if _, drop := hopByHop[http.CanonicalHeaderKey(k)]; drop {
			continue
		}
		cp := make([]string, len(vv))
		copy(cp, vv)
		dst[http.CanonicalHeaderKey(k)] = cp
	}
	return dst
}

// BuildBackendRequest constructs the HTTP/2 request sent to a backend from
// the fields decoded off an incoming HTTP/3 request. method/path/authority
// come from the client's pseudo-headers; headers are the client's regular
// header fields.
func BuildBackendRequest(ctx context.Context, backendAddress, method, path, authority string, headers http.Header, body io.ReadCloser, contentLength int64) (*http.Request, error) {
	if method == "" || path == "" {
		return nil, perrors.New(perrors.BridgeBuild, "bridge", "missing method or path pseudo-header")
	}

	url := "http://" + backendAddress + path

	// The body is fully buffered (up to the limit, plus one byte to detect
	// overflow) before any bytes reach the backend: an oversized body must
	// surface as 413 here, never mid-stream inside h2pool.Send.
	var reqBody io.Reader
	var actualLength int64
	if body != nil {
		buf, err := bufferBody(body, MaxBodyBytes)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(buf)
		actualLength = int64(len(buf))
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, perrors.Wrap(perrors.BridgeBuild, "bridge", err)
	}

	req.Header = cloneHeader(headers)
	host := authority
	if host == "" {
		host = backendAddress
	}
	req.Host = host

	req.ContentLength = actualLength
	if actualLength > 0 {
		req.Header.Set("Content-Length", strconv.FormatInt(actualLength, 10))
	} else {
		req.Header.Del("Content-Length")
	}

	return req, nil
}

// bufferBody reads body fully into memory, capped at max+1 bytes so an
// oversized body is detected without waiting for an unbounded read. It
// always closes body, matching io.ReadCloser's single-use contract.
func bufferBody(body io.ReadCloser, max int64) ([]byte, error) {
	defer body.Close()
	buf, err := io.ReadAll(io.LimitReader(body, max+1))
	if err != nil {
		return nil, perrors.Wrap(perrors.BridgeBuild, "bridge", err)
	}
	if int64(len(buf)) > max {
		return nil, perrors.New(perrors.BodyTooLarge, "bridge", "body exceeded buffering limit")
	}
	return buf, nil
}

// CopyResponseHeaders returns the header set to send back to the client for
// a backend response, with hop-by-hop fields dropped.
func CopyResponseHeaders(resp *http.Response) http.Header {
	return cloneHeader(resp.Header)
}

// LimitResponseBody wraps a backend response body so reading it never yields
// more than MaxBodyBytes; a read past the limit surfaces as a BodyTooLarge
// error to the caller instead of silently truncating.
func LimitResponseBody(body io.ReadCloser) io.ReadCloser {
	return newLimitedReadCloser(body, MaxBodyBytes)
}

// limitedReadCloser is MaxBytesReader without the http.ResponseWriter
// coupling: it reports perrors.BodyTooLarge once the wrapped reader has
// yielded more than max bytes; a body of exactly max bytes reads to EOF.
type limitedReadCloser struct {
	r         io.ReadCloser
	remaining int64
}

func newLimitedReadCloser(r io.ReadCloser, max int64) io.ReadCloser {
	return &limitedReadCloser{r: r, remaining: max}
}

func (l *limitedReadCloser) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, perrors.New(perrors.BodyTooLarge, "bridge", "body exceeded buffering limit")
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, perrors.New(perrors.BodyTooLarge, "bridge", "body exceeded buffering limit")
	}
	return n, err
}

func (l *limitedReadCloser) Close() error {
	return l.r.Close()
}
