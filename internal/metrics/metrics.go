// Package metrics exposes Prometheus counters for this daemon's
// connection, file-list, and transfer activity, plus an optional debug
// HTTP listener serving /metrics and /debug/pprof.
package metrics

import (
	"context"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements rsyncd.Metrics, recording every counter via
// prometheus/client_golang.
type Recorder struct {
	connectionsTotal  prometheus.Counter
	connectionsActive prometheus.Gauge
	flistEntriesTotal prometheus.Counter
	bytesSentTotal    prometheus.Counter
}

// NewRecorder registers its counters with reg (typically the same
// *prometheus.Registry that is passed to ServeDebug).
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulprsyncd_connections_total",
			Help: "Total number of accepted rsync daemon connections.",
		}),
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pulprsyncd_connections_active",
			Help: "Number of rsync daemon connections currently being served.",
		}),
		flistEntriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulprsyncd_flist_entries_total",
			Help: "Total number of file-list entries synthesized and sent.",
		}),
		bytesSentTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulprsyncd_bytes_sent_total",
			Help: "Total number of raw bytes written to rsync clients.",
		}),
	}
}

// ConnectionOpened implements rsyncd.Metrics.
func (r *Recorder) ConnectionOpened() {
	r.connectionsTotal.Inc()
	r.connectionsActive.Inc()
}

// ConnectionClosed implements rsyncd.Metrics.
func (r *Recorder) ConnectionClosed() {
	r.connectionsActive.Dec()
}

// FlistEntriesSent implements rsyncd.Metrics.
func (r *Recorder) FlistEntriesSent(n int) {
	r.flistEntriesTotal.Add(float64(n))
}

// BytesSent implements rsyncd.Metrics.
func (r *Recorder) BytesSent(n int64) {
	r.bytesSentTotal.Add(float64(n))
}

// ServeDebug starts an HTTP server on addr exposing /metrics (via
// promhttp) and /debug/pprof, blocking until ctx is canceled or the
// server fails. Callers typically run this in its own goroutine.
func ServeDebug(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
