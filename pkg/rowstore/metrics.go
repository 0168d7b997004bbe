package rowstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// storeRows tracks the current number of rows per collection
	storeRows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crm_rowstore_rows",
			Help: "Current number of rows held in the row store",
		},
		[]string{"collection"},
	)

	// storeUpserts tracks upserts by outcome (insert vs replace)
	storeUpserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_rowstore_upserts_total",
			Help: "Total row store upserts by outcome",
		},
		[]string{"collection", "outcome"}, // "insert", "replace"
	)

	// storeRemoves tracks removed rows
	storeRemoves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_rowstore_removes_total",
			Help: "Total rows removed from the row store",
		},
		[]string{"collection"},
	)

	// storeClears tracks full store resets
	storeClears = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_rowstore_clears_total",
			Help: "Total row store clears",
		},
		[]string{"collection"},
	)
)
