package catalog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collabgraph_catalog_requests_total",
		Help: "Catalog HTTP requests by endpoint and status.",
	}, []string{"endpoint", "status"})
	mRequestDur = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "collabgraph_catalog_request_duration_seconds",
		Help:    "Catalog HTTP round-trip time.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)
