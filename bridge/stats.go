package bridge

import (
	"net/http"
	"time"

	"github.com/companyzero/ghostrec/recsession"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stats holds the bridge metrics.
type Stats struct {
	reg *prometheus.Registry

	calls     *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	recording prometheus.Gauge
	playback  prometheus.Gauge
}

// NewStats creates the bridge metrics on a new registry that also carries
// the process and Go runtime collectors.
func NewStats() *Stats {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	return &Stats{
		reg: reg,

		calls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ghostrec_calls_total",
			Help: "Count of bridge calls by method and result code",
		}, []string{"method", "code"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ghostrec_call_duration_seconds",
			Help:    "Histogram of the time taken to execute bridge calls",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method"}),
		recording: f.NewGauge(prometheus.GaugeOpts{
			Name: "ghostrec_recording_active",
			Help: "1 while a recording is active",
		}),
		playback: f.NewGauge(prometheus.GaugeOpts{
			Name: "ghostrec_playback_active",
			Help: "1 while a playback is active",
		}),
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// observeCall records a finished call.
func (s *Stats) observeCall(method string, o recsession.Outcome, d time.Duration) {
	code := string(o.Kind)
	if o.OK() {
		code = "OK"
	}
	method = knownMethod(method)
	s.calls.WithLabelValues(method, code).Inc()
	s.duration.WithLabelValues(method).Observe(d.Seconds())
}

// setActive records the state of the manager handles.
func (s *Stats) setActive(recording, playback bool) {
	s.recording.Set(boolGauge(recording))
	s.playback.Set(boolGauge(playback))
}

// MetricsHandler returns the handler that serves the metrics.
func (s *Stats) MetricsHandler() http.Handler {
	return promhttp.InstrumentMetricHandler(
		s.reg, promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}),
	)
}
