package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tourbook"

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

	admissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Reservation admissions by result.",
		},
		[]string{"result"},
	)

	admissionRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_retries_total",
			Help:      "Admissions retried after a write conflict.",
		},
	)

	settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settlement runs by result.",
		},
		[]string{"result"},
	)

	settledRevenue = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settled_revenue_total",
			Help:      "Booking revenue moved into settlements, in currency units.",
		},
	)

	outboxTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_tasks_total",
			Help:      "Outbox deliveries by target and result.",
		},
		[]string{"target", "result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, admissions, admissionRetries, settlements, settledRevenue, outboxTasks)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// IncAdmission records an admission outcome: admitted, capacity_exceeded, conflict, error.
func IncAdmission(result string) {
	admissions.WithLabelValues(result).Inc()
}

func IncAdmissionRetry() {
	admissionRetries.Inc()
}

// IncSettlement records a settlement outcome: settled, nothing_to_settle, conflict, error.
func IncSettlement(result string) {
	settlements.WithLabelValues(result).Inc()
}

func AddSettledRevenue(amount float64) {
	settledRevenue.Add(amount)
}

func IncOutbox(target, result string) {
	outboxTasks.WithLabelValues(target, result).Inc()
}
