// Package metrics exposes dataservd's operational counters through
// Prometheus, grounded on docker/distribution's metrics/prometheus.go
// (namespace construction) and notifications/metrics.go (labeled
// counters/gauges wired to queue ingress/egress events).
package metrics

import (
	"context"
	"net"
	"net/http"

	metrics "github.com/docker/go-metrics"
)

// Namespace is the Prometheus namespace prefix for every dataservd
// metric, mirroring distribution's "registry" NamespacePrefix.
const Namespace = "dataservd"

var ns = metrics.NewNamespace(Namespace, "", nil)

var (
	connectionsTotal = ns.NewLabeledCounter("connections_total", "Total negotiated connections by role", "role")
	datasetsGauge    = ns.NewGauge("datasets", "Number of registered datasets", metrics.Total)
	queueDepthGauge  = ns.NewLabeledGauge("sink_queue_depth", "Current depth of a sink's queue", metrics.Total, "dataset")
	framesDropped    = ns.NewLabeledCounter("frames_dropped_total", "Frames discarded by drop-oldest backpressure", "dataset")
)

func init() {
	metrics.Register(ns)
}

// Recorder records dataservd events into the registered Prometheus
// metrics. Its methods are nil-receiver safe so a *Recorder can be
// threaded through call sites uniformly whether or not metrics are
// enabled.
type Recorder struct{}

// NewRecorder returns a Recorder backed by the package-level namespace.
func NewRecorder() *Recorder { return &Recorder{} }

// ObserveConnection increments the connection counter for role
// ("info", "source", or "sink").
func (r *Recorder) ObserveConnection(role string) {
	if r == nil {
		return
	}
	connectionsTotal.WithValues(role).Inc(1)
}

// SetDatasetCount sets the registered-dataset gauge.
func (r *Recorder) SetDatasetCount(n int) {
	if r == nil {
		return
	}
	datasetsGauge.Set(float64(n))
}

// SetQueueDepth sets a named dataset's sink queue depth gauge.
func (r *Recorder) SetQueueDepth(dataset string, depth int) {
	if r == nil {
		return
	}
	queueDepthGauge.WithValues(dataset).Set(float64(depth))
}

// IncDropped increments the frames-dropped counter for a dataset.
func (r *Recorder) IncDropped(dataset string) {
	if r == nil {
		return
	}
	framesDropped.WithValues(dataset).Inc(1)
}

// Serve starts the optional /metrics HTTP exposition endpoint on addr.
// It runs detached; callers should stop it via the returned server's
// Shutdown when the broker stops.
func Serve(addr string) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	srv := &http.Server{Handler: mux}
	go srv.Serve(ln) //nolint:errcheck

	return srv, nil
}

// Shutdown gracefully stops a metrics HTTP server started by Serve.
func Shutdown(ctx context.Context, srv *http.Server) error {
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
