package wavecache

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "wavecache"

// metrics is a no-op when disabled; every method tolerates that.
type metrics struct {
	enabled  bool
	registry *prometheus.Registry

	responses     *prometheus.CounterVec
	failures      *prometheus.CounterVec
	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	trimmed       *prometheus.CounterVec
}

func newMetrics(enabled bool) (*metrics, error) {
	m := &metrics{enabled: enabled}
	if !enabled {
		return m, nil
	}
	m.registry = prometheus.NewRegistry()

	m.responses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "responses_total",
			Help:      "Responses returned to the page by class and source",
		},
		[]string{"class", "source"},
	)
	m.failures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "failures_total",
			Help:      "Requests for which no response could be produced",
		},
		[]string{"class"},
	)
	m.fetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "fetches_total",
			Help:      "Network fetches by class, mode and outcome",
		},
		[]string{"class", "mode", "outcome"},
	)
	m.fetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of network fetches in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"class"},
	)
	m.trimmed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "trimmed_entries_total",
			Help:      "Entries evicted by the FIFO trimmer",
		},
		[]string{"store"},
	)

	for _, c := range []prometheus.Collector{m.responses, m.failures, m.fetches, m.fetchDuration, m.trimmed} {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) observeResult(res Result) {
	if !m.enabled {
		return
	}
	m.responses.WithLabelValues(res.Class.String(), res.Source.String()).Inc()
}

func (m *metrics) observeFailure(class Class) {
	if !m.enabled {
		return
	}
	m.failures.WithLabelValues(class.String()).Inc()
}

func (m *metrics) observeFetch(class Class, mode FetchMode, err error, d time.Duration) {
	if !m.enabled {
		return
	}
	m.fetches.WithLabelValues(class.String(), mode.String(), fetchOutcome(err)).Inc()
	m.fetchDuration.WithLabelValues(class.String()).Observe(d.Seconds())
}

func (m *metrics) observeTrim(store string, n int) {
	if !m.enabled {
		return
	}
	m.trimmed.WithLabelValues(store).Add(float64(n))
}

func (m *metrics) handler() http.Handler {
	if !m.enabled {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func fetchOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCORSBlocked):
		return "cors-blocked"
	default:
		return "network-error"
	}
}
