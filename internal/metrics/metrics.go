package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	eventMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gas_crm",
			Name:      "event_mutations_total",
			Help:      "Count of event mutations by operation.",
		},
		[]string{"operation"},
	)

	eventConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gas_crm",
			Name:      "event_conflicts_total",
			Help:      "Count of mutations rejected due to booking conflicts.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gas_crm",
			Name:      "http_requests_total",
			Help:      "Count of API requests by handler.",
		},
		[]string{"handler"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(eventMutations, eventConflicts, httpRequests)
	})
}

func IncEventMutation(operation string) {
	eventMutations.WithLabelValues(operation).Inc()
}

func IncEventConflict() {
	eventConflicts.Inc()
}

func IncHTTP(handler string) {
	httpRequests.WithLabelValues(handler).Inc()
}
