package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cratesio_perf"

var (
	packagesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "packages_total"),
		"Packages by queue or lifecycle state.",
		[]string{"state"}, nil,
	)
	failuresDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "package_failures_total"),
		"Per-package failures by kind.",
		[]string{"kind"}, nil,
	)
	phasesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "phase_outcomes_total"),
		"Builder phase results.",
		[]string{"phase", "status"}, nil,
	)
	phaseSecondsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "phase_seconds_total"),
		"Wall-clock seconds spent per builder phase.",
		[]string{"phase"}, nil,
	)
	workerDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "worker_events_total"),
		"Isolated worker lifecycle events.",
		[]string{"event"}, nil,
	)
	lodeDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "lode_writes_total"),
		"Result dataset write calls.",
		[]string{"result"}, nil,
	)
	infoDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "batch_info"),
		"Batch dimensions.",
		[]string{"batch_id", "mode", "storage_backend"}, nil,
	)
)

// promCollector exposes a Collector's snapshot to Prometheus.
type promCollector struct {
	c *Collector
}

// NewPrometheusCollector adapts c to prometheus.Collector.
func NewPrometheusCollector(c *Collector) prometheus.Collector {
	return &promCollector{c: c}
}

func (p *promCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- packagesDesc
	ch <- failuresDesc
	ch <- phasesDesc
	ch <- phaseSecondsDesc
	ch <- workerDesc
	ch <- lodeDesc
	ch <- infoDesc
}

func (p *promCollector) Collect(ch chan<- prometheus.Metric) {
	s := p.c.Snapshot()
	counter := func(desc *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, v, labels...)
	}

	counter(packagesDesc, float64(s.PackagesQueued), "queued")
	counter(packagesDesc, float64(s.PackagesExcluded), "excluded")
	counter(packagesDesc, float64(s.PackagesSkipped), "skipped")
	counter(packagesDesc, float64(s.PackagesReset), "reset")
	counter(packagesDesc, float64(s.PackagesStarted), "started")
	counter(packagesDesc, float64(s.PackagesCompleted), "completed")
	counter(packagesDesc, float64(s.PackagesFailed), "failed")

	for kind, v := range s.FailuresByKind {
		counter(failuresDesc, float64(v), kind)
	}
	for phase, byStatus := range s.PhaseOutcomes {
		for status, v := range byStatus {
			counter(phasesDesc, float64(v), phase, status)
		}
	}
	for phase, v := range s.PhaseSeconds {
		counter(phaseSecondsDesc, v, phase)
	}

	counter(workerDesc, float64(s.WorkerLaunchSuccess), "launch_success")
	counter(workerDesc, float64(s.WorkerLaunchFailure), "launch_failure")
	counter(workerDesc, float64(s.WorkerCrash), "crash")
	counter(workerDesc, float64(s.IPCDecodeErrors), "ipc_decode_error")

	counter(lodeDesc, float64(s.LodeWriteSuccess), "success")
	counter(lodeDesc, float64(s.LodeWriteFailure), "failure")

	ch <- prometheus.MustNewConstMetric(infoDesc, prometheus.GaugeValue, 1, s.BatchID, s.Mode, s.StorageBackend)
}

// Handler returns an http.Handler serving c on a private registry.
func Handler(c *Collector) (http.Handler, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(NewPrometheusCollector(c)); err != nil {
		return nil, fmt.Errorf("register batch collector: %w", err)
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// Server serves /metrics for a running batch.
type Server struct {
	server   *http.Server
	listener net.Listener
}

// Serve starts an HTTP server at addr exposing c at /metrics.
// errLog receives serve errors other than a clean shutdown.
func Serve(ctx context.Context, addr string, c *Collector, errLog func(error)) (*Server, error) {
	h, err := Handler(c)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := &http.Server{Handler: mux}
	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) && errLog != nil {
			errLog(serveErr)
		}
	}()
	return &Server{server: srv, listener: listener}, nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Close shuts the server down.
func (s *Server) Close(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}
