package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(dbPoolStats, cacheRequestsTotal) }

var dbPoolStats = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "db_pool_connections",
		Help: "Connections of the meeting result store pool by state.",
	},
	[]string{"state"}, // 'total', 'idle', 'acquired'
)

var cacheRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cache_requests_total",
		Help: "Read-through cache lookups by cache and result.",
	},
	[]string{"cache", "result"}, // 'hit', 'miss'
)

func SetDBPoolStats(total, idle, acquired int32) {
	dbPoolStats.WithLabelValues("total").Set(float64(total))
	dbPoolStats.WithLabelValues("idle").Set(float64(idle))
	dbPoolStats.WithLabelValues("acquired").Set(float64(acquired))
}

func IncCacheRequest(cacheName, result string) {
	cacheRequestsTotal.WithLabelValues(norm(cacheName), norm(result)).Inc()
}
