// File: internal/network/headers.go
package network

import "net/http"

// HeaderMiddleware is an http.RoundTripper that adds a fixed set of headers to
// each request, leaving any header the caller already set untouched.
type HeaderMiddleware struct {
	Transport http.RoundTripper
	Headers   map[string]string
}

// NewHeaderMiddleware wraps transport. A nil transport means http.DefaultTransport.
func NewHeaderMiddleware(transport http.RoundTripper, headers map[string]string) *HeaderMiddleware {
	if transport == nil {
		transport = http.DefaultTransport
	}
	copied := make(map[string]string, len(headers))
	for k, v := range headers {
		copied[k] = v
	}
	return &HeaderMiddleware{Transport: transport, Headers: copied}
}

// RoundTrip implements http.RoundTripper. The request is cloned, never mutated.
func (m *HeaderMiddleware) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	for k, v := range m.Headers {
		if out.Header.Get(k) == "" {
			out.Header.Set(k, v)
		}
	}
	return m.Transport.RoundTrip(out)
}

// CloseIdleConnections forwards to the wrapped transport.
func (m *HeaderMiddleware) CloseIdleConnections() {
	closeIdle(m.Transport)
}

func closeIdle(rt http.RoundTripper) {
	if c, ok := rt.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
}
