package httpclient

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// WaitObserver receives the time each request spent waiting for a token.
type WaitObserver func(wait time.Duration)

type rateLimitedRoundTripper struct {
	base    http.RoundTripper
	limiter *rate.Limiter
	observe WaitObserver
}

// WrapTransportWithRateLimit throttles outgoing requests to rps with the given
// burst. A non-positive rps disables throttling.
func WrapTransportWithRateLimit(base http.RoundTripper, rps float64, burst int, observe WaitObserver) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if rps <= 0 {
		return base
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimitedRoundTripper{
		base:    base,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		observe: observe,
	}
}

func (t *rateLimitedRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	if t.observe != nil {
		t.observe(time.Since(start))
	}
	return t.base.RoundTrip(req)
}
