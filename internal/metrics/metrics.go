package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "marketbook"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transitions_total",
			Help:      "Committed booking status transitions.",
		},
		[]string{"from", "to"},
	)

	holdAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_hold_attempts_total",
			Help:      "Ledger hold attempts by result.",
		},
		[]string{"result"},
	)

	quotes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotes_total",
			Help:      "Quotes computed by result.",
		},
		[]string{"result"},
	)

	outboxDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_deliveries_total",
			Help:      "Outbox delivery attempts by result.",
		},
		[]string{"result"},
	)

	feedHandlerErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_handler_errors_total",
			Help:      "Errors returned by in-process feed subscribers.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, transitions, holdAttempts, quotes, outboxDeliveries, feedHandlerErrors)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncTransition(from, to string) {
	if from == "" {
		from = "none"
	}
	transitions.WithLabelValues(from, to).Inc()
}

func IncHoldAttempt(result string) {
	holdAttempts.WithLabelValues(result).Inc()
}

func IncQuote(result string) {
	quotes.WithLabelValues(result).Inc()
}

func IncOutboxDelivery(result string) {
	outboxDeliveries.WithLabelValues(result).Inc()
}

func IncFeedHandlerError() {
	feedHandlerErrors.Inc()
}
