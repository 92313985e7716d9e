package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	loads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_store_loads_total",
		Help: "Full-sheet loads performed by the storage gateway.",
	}, []string{"table"})

	flushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_store_flushes_total",
		Help: "Full-sheet flushes written back to the workbook.",
	}, []string{"table"})

	flushSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rollcall_store_flush_duration_seconds",
		Help:    "Time spent rewriting and saving the workbook on mutation.",
		Buckets: prometheus.DefBuckets,
	})
)
