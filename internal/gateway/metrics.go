package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "contactsync",
		Subsystem: "gateway",
		Name:      "requests_total",
		Help:      "Remote calls by operation and outcome category.",
	},
	[]string{"operation", "outcome"},
)
