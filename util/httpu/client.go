package httpu

import (
	"net"
	"net/http"
	"time"

	"grindstone.dev/grindstone/telemetry"
)

// NewClient creates an http.Client with its own Transport instrumented under
// metricName.
//
// Each client gets a separate Transport rather than sharing
// http.DefaultTransport. With a shared transport, idle connections from one
// test's clients outlived http.Server.Shutdown in the next.
func NewClient(metricName string) *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: telemetry.NewMetricsTransport(metricName, transport),
	}
}
