// Package metrics exposes Prometheus collectors for the login gateway.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"botgate/cmd/internal/session"
)

const namespace = "botgate"

// StatsSource reports live session counts (session.Store).
type StatsSource interface {
	Stats() session.Counts
}

// Metrics owns a private registry so tests can build independent instances.
type Metrics struct {
	reg *prometheus.Registry

	sessionsCreated prometheus.Counter
	verifications   *prometheus.CounterVec
	verifyDuration  *prometheus.HistogramVec
	groupChecks     *prometheus.CounterVec
	reaped          prometheus.Counter
	starts          *prometheus.CounterVec
}

// New registers all collectors. When stats is non-nil a gauge per session status
// is read from it at scrape time.
func New(stats StatsSource) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Login sessions issued.",
		}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Verification attempts by outcome.",
		}, []string{"outcome"}),
		verifyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "verification_duration_seconds",
			Help:      "Wall time of a verification attempt, membership checks included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		groupChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "group_checks_total",
			Help:      "Membership checks by result.",
		}, []string{"result"}),
		reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_expired_by_reaper_total",
			Help:      "Sessions transitioned to expired by the background sweep.",
		}),
		starts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bot_starts_total",
			Help:      "Bot entry events by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sessionsCreated, m.verifications, m.verifyDuration, m.groupChecks, m.reaped, m.starts,
	)

	if stats != nil {
		status := func(pick func(session.Counts) int) func() float64 {
			return func() float64 { return float64(pick(stats.Stats())) }
		}
		reg.MustRegister(
			sessionGauge("pending", status(func(c session.Counts) int { return c.Pending })),
			sessionGauge("verified", status(func(c session.Counts) int { return c.Verified })),
			sessionGauge("expired", status(func(c session.Counts) int { return c.Expired })),
		)
	}
	return m
}

func sessionGauge(status string, fn func() float64) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "sessions",
		Help:        "Sessions currently held, by status.",
		ConstLabels: prometheus.Labels{"status": status},
	}, fn)
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) SessionCreated() { m.sessionsCreated.Inc() }

// ObserveVerification implements verify.Recorder.
func (m *Metrics) ObserveVerification(outcome string, took time.Duration) {
	m.verifications.WithLabelValues(outcome).Inc()
	m.verifyDuration.WithLabelValues(outcome).Observe(took.Seconds())
}

// ObserveGroupCheck implements verify.Recorder.
func (m *Metrics) ObserveGroupCheck(result string) {
	m.groupChecks.WithLabelValues(result).Inc()
}

// ObserveSweep implements reaper.Observer.
func (m *Metrics) ObserveSweep(expired int) {
	if expired > 0 {
		m.reaped.Add(float64(expired))
	}
}

// ObserveStart counts bot entry outcomes.
func (m *Metrics) ObserveStart(outcome string) {
	m.starts.WithLabelValues(outcome).Inc()
}
