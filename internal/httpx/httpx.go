// Package httpx carries small HTTP plumbing shared by the provider-facing
// clients.
package httpx

import "net/http"

// HeaderRoundTripper injects a fixed header set into every request, e.g. the
// identity provider's client telemetry header or device identification.
type HeaderRoundTripper struct {
	Headers map[string]string
	Base    http.RoundTripper
}

func (t *HeaderRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	clone := req.Clone(req.Context())
	for k, v := range t.Headers {
		if v != "" {
			clone.Header.Set(k, v)
		}
	}
	return base.RoundTrip(clone)
}
