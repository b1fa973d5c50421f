package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	persistFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contactsync",
			Subsystem: "client",
			Name:      "persist_failures_total",
			Help:      "Local state writes that failed, by store key.",
		},
		[]string{"key"},
	)

	scansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contactsync",
			Subsystem: "client",
			Name:      "device_scans_total",
			Help:      "Device contact scans, by outcome.",
		},
		[]string{"outcome"},
	)
)
