package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the aggregation collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	AggregationsTotal     *prometheus.CounterVec
	AggregationSeconds    prometheus.Histogram
	AggregatedLevels      *prometheus.HistogramVec
	VenueFetchSeconds     *prometheus.HistogramVec
	VenueFetchErrorsTotal *prometheus.CounterVec
	VenueExcludedTotal    *prometheus.CounterVec
	CircuitTripsTotal     *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		AggregationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderbook_aggregations_total",
			Help: "Aggregation requests by outcome",
		}, []string{"outcome"}),
		AggregationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "orderbook_aggregation_seconds",
			Help:    "End to end aggregation latency",
			Buckets: prometheus.DefBuckets,
		}),
		AggregatedLevels: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orderbook_aggregated_levels",
			Help:    "Merged ladder depth per side",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		}, []string{"side"}),
		VenueFetchSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "venue_fetch_seconds",
			Help:    "Snapshot fetch latency by venue",
			Buckets: prometheus.DefBuckets,
		}, []string{"venue"}),
		VenueFetchErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "venue_fetch_errors_total",
			Help: "Snapshot fetch failures by venue and kind",
		}, []string{"venue", "kind"}),
		VenueExcludedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "venue_excluded_total",
			Help: "Venues skipped under the partial failure policy",
		}, []string{"venue"}),
		CircuitTripsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "venue_circuit_trips_total",
			Help: "Circuit breaker trips by venue",
		}, []string{"venue"}),
	}
	reg.MustRegister(
		m.AggregationsTotal,
		m.AggregationSeconds,
		m.AggregatedLevels,
		m.VenueFetchSeconds,
		m.VenueFetchErrorsTotal,
		m.VenueExcludedTotal,
		m.CircuitTripsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveAggregation(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.AggregationsTotal.WithLabelValues(outcome).Inc()
	m.AggregationSeconds.Observe(seconds)
}

func (m *Metrics) ObserveLevels(side string, n int) {
	if m == nil {
		return
	}
	m.AggregatedLevels.WithLabelValues(side).Observe(float64(n))
}

func (m *Metrics) ObserveFetch(venue string, seconds float64, errKind string) {
	if m == nil {
		return
	}
	m.VenueFetchSeconds.WithLabelValues(venue).Observe(seconds)
	if errKind != "" {
		m.VenueFetchErrorsTotal.WithLabelValues(venue, errKind).Inc()
	}
}

func (m *Metrics) IncExcluded(venue string) {
	if m == nil {
		return
	}
	m.VenueExcludedTotal.WithLabelValues(venue).Inc()
}

func (m *Metrics) IncCircuitTrip(venue string) {
	if m == nil {
		return
	}
	m.CircuitTripsTotal.WithLabelValues(venue).Inc()
}
