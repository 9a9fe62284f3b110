package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AlexKimmel/fence/internal/gateway"
)

type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Paced           *prometheus.CounterVec
	LimiterErrors   prometheus.Counter
	LoopIterations  prometheus.Counter
	LoopWait        prometheus.Histogram
	LoopRate        prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fence_http_requests_total",
				Help: "Total HTTP requests processed",
			},
			[]string{"path", "method", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fence_http_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path", "method"},
		),
		Paced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fence_paced_total",
				Help: "Total requests denied because the client's fence was closed",
			},
			[]string{"client"},
		),
		LimiterErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fence_limiter_errors_total",
				Help: "Total pacing limiter errors",
			},
		),
		LoopIterations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fence_loop_iterations_total",
				Help: "Total iterations completed by the paced loop",
			},
		),
		LoopWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fence_loop_wait_seconds",
				Help:    "Time the paced loop spent blocked on its fence",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
			},
		),
		LoopRate: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fence_loop_rate",
				Help: "Loop iterations observed over the last second",
			},
		),
	}

	reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.Paced, m.LimiterErrors,
		m.LoopIterations, m.LoopWait, m.LoopRate)
	return m
}

// OnPaced and OnError match the gateway.Pace callbacks.
func (m *Metrics) OnPaced(clientID string) { m.Paced.WithLabelValues(clientID).Inc() }
func (m *Metrics) OnError(string)          { m.LimiterErrors.Inc() }

// ObserveIteration records one pass of the paced loop.
func (m *Metrics) ObserveIteration(wait time.Duration, rate int64) {
	m.LoopIterations.Inc()
	m.LoopWait.Observe(wait.Seconds())
	m.LoopRate.Set(float64(rate))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Middleware records per-request metrics.
func (m *Metrics) Middleware(skip map[string]struct{}) gateway.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			code := rec.status
			if code == 0 {
				code = http.StatusOK
			}

			m.RequestDuration.WithLabelValues(r.URL.Path, r.Method).Observe(time.Since(start).Seconds())
			m.RequestsTotal.WithLabelValues(r.URL.Path, r.Method, strconv.Itoa(code)).Inc()
		})
	}
}
