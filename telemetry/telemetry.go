package telemetry

import (
	"net/http"
	"net/http/httptrace"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "grindstone"

var (
	// Transport level metrics

	httpInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_client_in_flight_requests",
			Help:      "Current number of in-flight HTTP requests",
		},
		[]string{"client"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_client_duration_seconds",
			Help:      "HTTP request duration distributions",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"client", "status"},
	)

	httpQueueTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_client_queue_seconds",
			Help:      "Time spent waiting for a connection",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5},
		},
		[]string{"client"},
	)

	// RPC level metrics

	rpcInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rpc_in_flight_requests",
			Help:      "Current number of in-flight RPC requests",
		},
		[]string{"client", "procedure"},
	)

	rpcDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_duration_seconds",
			Help:      "RPC duration distributions by result code",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"client", "procedure", "code"},
	)

	// Messages per delivered batch. Low values under load mean the batcher
	// is flushing on delay rather than size.
	batchMessages = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_batch_messages",
			Help:      "Barrier messages carried by each delivered batch",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		},
		[]string{"client"},
	)
)

// MetricsTransport records in-flight requests, connection wait time and
// duration by status code for an http.Client.
type MetricsTransport struct {
	name     string
	wrapped  http.RoundTripper
	inFlight atomic.Int64
}

func NewMetricsTransport(name string, wrapped http.RoundTripper) *MetricsTransport {
	if wrapped == nil {
		wrapped = http.DefaultTransport
	}
	return &MetricsTransport{
		name:    name,
		wrapped: wrapped,
	}
}

func (t *MetricsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	httpInFlight.WithLabelValues(t.name).Set(float64(t.inFlight.Add(1)))
	defer func() {
		httpInFlight.WithLabelValues(t.name).Set(float64(t.inFlight.Add(-1)))
	}()

	trace := &httptrace.ClientTrace{
		GotConn: func(httptrace.GotConnInfo) {
			httpQueueTime.WithLabelValues(t.name).Observe(time.Since(start).Seconds())
		},
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

	resp, err := t.wrapped.RoundTrip(req)
	if err != nil {
		httpDuration.WithLabelValues(t.name, "error").Observe(time.Since(start).Seconds())
		return nil, err
	}
	httpDuration.WithLabelValues(t.name, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())
	return resp, nil
}
