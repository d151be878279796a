package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	bookingTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_transitions_total",
			Help: "Booking transitions attempted, by transition and result",
		},
		[]string{"transition", "result"},
	)

	paymentsRecordedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_recorded_total",
			Help: "Payment callbacks processed, by outcome and result",
		},
		[]string{"outcome", "result"},
	)

	invoiceRendersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoice_renders_total",
			Help: "Invoice artifact render attempts, by result",
		},
		[]string{"result"},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notification deliveries per connection, by result",
		},
		[]string{"result"},
	)

	realtimeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_connections",
			Help: "Currently registered realtime connections",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(bookingTransitionsTotal)
	prometheus.MustRegister(paymentsRecordedTotal)
	prometheus.MustRegister(invoiceRendersTotal)
	prometheus.MustRegister(notificationsTotal)
	prometheus.MustRegister(realtimeConnections)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveHTTP(method, route, status string, seconds float64) {
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(seconds)
}

func RecordTransition(transition, result string) {
	bookingTransitionsTotal.WithLabelValues(transition, result).Inc()
}

func RecordPayment(outcome, result string) {
	paymentsRecordedTotal.WithLabelValues(outcome, result).Inc()
}

func RecordRender(result string) {
	invoiceRendersTotal.WithLabelValues(result).Inc()
}

func RecordNotification(result string) {
	notificationsTotal.WithLabelValues(result).Inc()
}

func ConnectionOpened() { realtimeConnections.Inc() }

func ConnectionClosed() { realtimeConnections.Dec() }
