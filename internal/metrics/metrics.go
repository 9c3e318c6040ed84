// Package metrics exposes Prometheus collectors for the oracle runtime and
// its HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"markethours/internal/domain"
	"markethours/internal/program"
)

const namespace = "markethours"

// Collector holds the collectors on a private registry.
type Collector struct {
	registry *prometheus.Registry

	calls         *prometheus.CounterVec
	rewards       prometheus.Counter
	rewardLamport prometheus.Counter
	lastCrank     prometheus.Gauge
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// NewCollector creates a Collector with process and Go runtime collectors
// already registered.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "calls_total",
			Help:      "Instructions executed, by name and outcome.",
		}, []string{"instruction", "success"}),
		rewards: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "rewards_total",
			Help:      "Cranks that paid a reward.",
		}),
		rewardLamport: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "reward_lamports_total",
			Help:      "Lamports paid out of the reward vault.",
		}),
		lastCrank: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "last_crank_unix_seconds",
			Help:      "Clock value of the last successful crank.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"method", "path"}),
	}
	c.registry.MustRegister(
		c.calls,
		c.rewards,
		c.rewardLamport,
		c.lastCrank,
		c.httpRequests,
		c.httpDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// RegisterVaultBalance exposes the reward vault balance, read on every scrape.
func (c *Collector) RegisterVaultBalance(read func() float64) {
	c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "oracle",
		Name:      "vault_balance_lamports",
		Help:      "Current reward vault balance.",
	}, read))
}

// ObserveReceipt records one executed call.
func (c *Collector) ObserveReceipt(r *domain.Receipt) {
	c.calls.WithLabelValues(r.Instruction, strconv.FormatBool(r.Success)).Inc()
	if !r.Success {
		return
	}
	if r.Instruction == program.InstructionCrankOracle {
		c.lastCrank.Set(float64(r.UnixTimestamp))
	}
	if r.Reward > 0 {
		c.rewards.Inc()
		c.rewardLamport.Add(float64(r.Reward))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps next with request counting and timing, labelled by
// the matched route pattern.
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		c.httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		c.httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush lets streaming handlers behind the recorder keep flushing.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
