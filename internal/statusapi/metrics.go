package statusapi

import (
	"net/http"

	"github.com/MarkoPoloResearchLab/legacyrecon/pkg/reconcile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricsNamespace = "reconcile"
	labelCode        = "code"
	labelRole        = "role"
	labelSide        = "side"
	sideSource       = "source"
	sideDestination  = "destination"
)

// Metrics exposes the latest verification of every party that was asked for.
type Metrics struct {
	registry *prometheus.Registry
	count    *prometheus.GaugeVec
	quantity *prometheus.GaugeVec
	value    *prometheus.GaugeVec
	match    *prometheus.GaugeVec
}

// NewMetrics registers the verification gauges on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	aggregateLabels := []string{labelCode, labelRole, labelSide}
	metrics := &Metrics{
		registry: registry,
		count: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "aggregate_count",
			Help:      "Number of non-deleted records for a party in a role.",
		}, aggregateLabels),
		quantity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "aggregate_quantity",
			Help:      "Summed quantity of non-deleted records for a party in a role.",
		}, aggregateLabels),
		value: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "aggregate_value",
			Help:      "Summed quantity times unit price for a party in a role.",
		}, aggregateLabels),
		match: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "match",
			Help:      "1 when source and destination aggregates agree within tolerance.",
		}, []string{labelCode, labelRole}),
	}
	registry.MustRegister(metrics.count, metrics.quantity, metrics.value, metrics.match)
	return metrics
}

// Observe records a verification.
func (metrics *Metrics) Observe(verification reconcile.PartyVerification) {
	code := verification.Party.Code.String()
	for _, role := range verification.Roles {
		metrics.observeSide(code, role.Role, sideSource, role.Source)
		metrics.observeSide(code, role.Role, sideDestination, role.Destination)
		matched := 0.0
		if role.Match {
			matched = 1
		}
		metrics.match.WithLabelValues(code, role.Role.String()).Set(matched)
	}
}

func (metrics *Metrics) observeSide(code string, role reconcile.Role, side string, aggregate reconcile.Aggregate) {
	metrics.count.WithLabelValues(code, role.String(), side).Set(float64(aggregate.Count))
	metrics.quantity.WithLabelValues(code, role.String(), side).Set(aggregate.Quantity.InexactFloat64())
	metrics.value.WithLabelValues(code, role.String(), side).Set(aggregate.Value.InexactFloat64())
}

// Handler serves the registry in the Prometheus exposition format.
func (metrics *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{})
}
