package importer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	contactsImported = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "contactsync",
		Subsystem: "importer",
		Name:      "contacts_imported_total",
		Help:      "Contacts created remotely by bulk import.",
	})

	contactsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "contactsync",
		Subsystem: "importer",
		Name:      "contacts_failed_total",
		Help:      "Contacts that could not be created and were rolled back locally.",
	})

	bulkFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "contactsync",
		Subsystem: "importer",
		Name:      "bulk_fallbacks_total",
		Help:      "Remote chunks that fell back to per-item creates.",
	})
)
