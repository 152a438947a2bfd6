package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ghstats"

type Metrics struct {
	pageFetches      *prometheus.CounterVec
	refreshes        *prometheus.CounterVec
	refreshDuration  *prometheus.HistogramVec
	languageFailures prometheus.Counter
}

// New registers the pipeline metrics on reg. Passing prometheus.DefaultRegisterer
// exposes them through promhttp.Handler.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pageFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_fetch_total",
			Help:      "Upstream repository page fetches by outcome.",
		}, []string{"status"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Completed stats requests by final state.",
		}, []string{"state"}),
		refreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Duration of stats requests by final state.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"state"}),
		languageFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "language_failures_total",
			Help:      "Repositories whose language breakdown could not be loaded.",
		}),
	}

	reg.MustRegister(m.pageFetches, m.refreshes, m.refreshDuration, m.languageFailures)

	return m
}

func (m *Metrics) ObservePage(status string) {
	m.pageFetches.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveRefresh(state string, elapsed time.Duration) {
	m.refreshes.WithLabelValues(state).Inc()
	m.refreshDuration.WithLabelValues(state).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveLanguageFailures(n int) {
	m.languageFailures.Add(float64(n))
}
