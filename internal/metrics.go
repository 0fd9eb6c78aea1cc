package internal

import (
	"expvar"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Every counter is kept twice: as an expvar map for /debug/vars style
// scraping and as a Prometheus vector on a private registry.
var (
	requestsTotal   = expvar.NewMap("asanahooks_requests_total")
	eventsTotal     = expvar.NewMap("asanahooks_events_total")
	resolveFailures = expvar.NewMap("asanahooks_resolve_failures_total")
	persistErrors   = expvar.NewMap("asanahooks_persist_errors_total")
	parseErrors     = expvar.NewMap("asanahooks_parse_errors_total")
	publishErrors   = expvar.NewMap("asanahooks_publish_errors_total")

	registry = prometheus.NewRegistry()

	promRequests        = counterVec("requests_total", "Webhook requests by endpoint", "endpoint")
	promEvents          = counterVec("events_total", "Stored activity events by action type", "action_type")
	promResolveFailures = counterVec("resolve_failures_total", "Failed name lookups by kind", "kind")
	promPersistErrors   = counterVec("persist_errors_total", "Failed inserts by table", "table")
	promParseErrors     = counterVec("parse_errors_total", "Unparseable deliveries by endpoint", "endpoint")
	promPublishErrors   = counterVec("publish_errors_total", "Failed publishes by driver", "driver")

	promDeliveryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "asanahooks",
		Name:      "delivery_duration_seconds",
		Help:      "Time spent processing one webhook delivery",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	registry.MustRegister(promDeliveryDuration)
}

func counterVec(name, help, label string) *prometheus.CounterVec {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "asanahooks",
		Name:      name,
		Help:      help,
	}, []string{label})
	registry.MustRegister(vec)
	return vec
}

// PrometheusHandler serves the Prometheus text exposition of the counters.
func PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func IncRequest(endpoint string) {
	requestsTotal.Add(endpoint, 1)
	promRequests.WithLabelValues(endpoint).Inc()
}

func IncEvent(actionType string) {
	eventsTotal.Add(actionType, 1)
	promEvents.WithLabelValues(actionType).Inc()
}

func IncResolveFailure(kind string) {
	resolveFailures.Add(kind, 1)
	promResolveFailures.WithLabelValues(kind).Inc()
}

func IncPersistError(table string) {
	persistErrors.Add(table, 1)
	promPersistErrors.WithLabelValues(table).Inc()
}

func IncParseError(endpoint string) {
	parseErrors.Add(endpoint, 1)
	promParseErrors.WithLabelValues(endpoint).Inc()
}

func IncPublishError(driver string) {
	publishErrors.Add(driver, 1)
	promPublishErrors.WithLabelValues(driver).Inc()
}

// ObserveDelivery records how long one webhook delivery took.
func ObserveDelivery(d time.Duration) {
	promDeliveryDuration.Observe(d.Seconds())
}
