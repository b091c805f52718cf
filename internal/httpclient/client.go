package httpclient

import (
	"net"
	"net/http"
	"time"

	"s2batch/internal/logging"
)

// New builds an HTTP client with conservative dial and header timeouts.
// A zero timeout leaves the overall request unbounded, which archive
// downloads rely on; callers bound those with a context instead.
func New(timeout time.Duration, logger logging.Logger) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 2 * time.Minute,
	}
	logging.OrNop(logger).Debug("http client created (timeout=%v)", timeout)
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
