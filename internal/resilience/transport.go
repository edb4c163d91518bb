package resilience

import "net/http"

// Transport is an http.RoundTripper guarded by a circuit breaker. Responses
// with a 5xx status count as failures; 4xx responses are the processor
// telling us about our request and leave the breaker alone.
type Transport struct {
	Base    http.RoundTripper
	Breaker *Breaker
}

func (t Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.Breaker == nil {
		return base.RoundTrip(req)
	}
	if !t.Breaker.Allow() {
		return nil, ErrOpenCircuit
	}
	resp, err := base.RoundTrip(req)
	t.Breaker.Report(err == nil && resp.StatusCode < http.StatusInternalServerError)
	return resp, err
}
