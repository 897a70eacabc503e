package expand

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collabgraph_ops_total",
		Help: "Upsert statements applied, by result.",
	}, []string{"result"})
	mOpDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "collabgraph_op_duration_seconds",
		Help:    "Time to apply one upsert statement.",
		Buckets: prometheus.DefBuckets,
	})
	mArtists = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collabgraph_artists_total",
		Help: "Artist expansions, by result.",
	}, []string{"result"})
	mArtistDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "collabgraph_artist_duration_seconds",
		Help:    "Time to retrieve and apply one artist's discography.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})
	mMalformed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collabgraph_malformed_total",
		Help: "Catalog entities skipped for lack of an identifier.",
	})
	mFrontier = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collabgraph_frontier_size",
		Help: "Artists awaiting expansion after the last round.",
	})
)
