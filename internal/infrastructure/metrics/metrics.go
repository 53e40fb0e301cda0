// Package metrics registers the Prometheus collectors for UnitLink Core.
//
// Init registers everything once on the default registry. The Observe and
// Inc helpers are safe to call before Init; they do nothing until the
// collectors exist, so packages can record metrics without caring whether
// the metrics endpoint is enabled.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "unitlink_"

// Ingest results.
const (
	ResultSuccess    = "success"
	ResultValidation = "validation"
	ResultNotFound   = "not_found"
	ResultError      = "error"
)

// Drop reasons for notifications.
const (
	DropQueueFull      = "queue_full"
	DropSubscriberFull = "subscriber_full"
	DropStale          = "stale"
)

var (
	registerOnce sync.Once

	ingestTotal       *prometheus.CounterVec
	ingestDuration    prometheus.Histogram
	transitionsTotal  *prometheus.CounterVec
	notifyPublished   prometheus.Counter
	notifyFailed      prometheus.Counter
	notifyDropped     *prometheus.CounterVec
	websocketClients  prometheus.Gauge
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
)

// Init registers the collectors on the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		ingestTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_total",
				Help: "Telemetry reports processed by result",
			},
			[]string{"result"},
		)
		ingestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "ingest_duration_seconds",
			Help:    "Time to validate and commit a telemetry report",
			Buckets: prometheus.DefBuckets,
		})
		transitionsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "status_transitions_total",
				Help: "Logged status transitions by event type",
			},
			[]string{"event_type"},
		)
		notifyPublished = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "notifications_published_total",
			Help: "Status updates accepted by the broker",
		})
		notifyFailed = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "notifications_failed_total",
			Help: "Status updates that could not be published after a committed ingest",
		})
		notifyDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_dropped_total",
				Help: "Status updates dropped by reason",
			},
			[]string{"reason"},
		)
		websocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "websocket_clients",
			Help: "Connected websocket clients",
		})
		httpRequestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		)
		httpDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		)

		prometheus.MustRegister(
			ingestTotal,
			ingestDuration,
			transitionsTotal,
			notifyPublished,
			notifyFailed,
			notifyDropped,
			websocketClients,
			httpRequestsTotal,
			httpDuration,
		)
	})
}

// ObserveIngest records an ingest outcome and its duration.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if ingestTotal != nil {
		ingestTotal.WithLabelValues(result).Inc()
	}
	if ingestDuration != nil {
		ingestDuration.Observe(duration.Seconds())
	}
}

// IncTransition counts a logged status transition.
func IncTransition(eventType string) {
	if transitionsTotal != nil {
		transitionsTotal.WithLabelValues(eventType).Inc()
	}
}

// IncNotificationPublished counts an update accepted by the broker.
func IncNotificationPublished() {
	if notifyPublished != nil {
		notifyPublished.Inc()
	}
}

// IncNotificationFailed counts an update that could not be published.
func IncNotificationFailed() {
	if notifyFailed != nil {
		notifyFailed.Inc()
	}
}

// IncNotificationDropped counts a dropped update.
func IncNotificationDropped(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if notifyDropped != nil {
		notifyDropped.WithLabelValues(reason).Inc()
	}
}

// SetWebsocketClients sets the connected client gauge.
func SetWebsocketClients(n int) {
	if websocketClients != nil {
		websocketClients.Set(float64(n))
	}
}

// ObserveHTTPRequest records one served request. route is the chi route
// pattern, not the raw path, to keep label cardinality bounded.
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	if httpRequestsTotal != nil {
		httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	}
	if httpDuration != nil {
		httpDuration.WithLabelValues(route).Observe(duration.Seconds())
	}
}
