package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		memoryRSSMB,
		memoryCleanupsTotal,
		admissionRejectionsTotal,
		admissionDeferralsTotal,
		apiRateLimitedTotal,
	)
}

var (
	memoryRSSMB = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "memory_rss_mb",
			Help: "Resident set size of the process in megabytes.",
		},
	)

	memoryCleanupsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "memory_cleanups_total",
			Help: "Forced memory cleanups (model release + GC).",
		},
	)

	admissionRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_rejections_total",
			Help: "Requests rejected before any work was scheduled.",
		},
		[]string{"reason"}, // e.g. 'file_too_large', 'rate_limited', 'queue_full'
	)

	admissionDeferralsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "admission_deferrals_total",
			Help: "Times a worker postponed picking up work because of memory pressure.",
		},
	)

	apiRateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "api_rate_limited_total",
			Help: "HTTP requests rejected by the per-user API rate limit.",
		},
	)
)

func SetMemoryRSS(mb float64) {
	memoryRSSMB.Set(mb)
}

func IncMemoryCleanup() {
	memoryCleanupsTotal.Inc()
}

func IncAdmissionRejection(reason string) {
	admissionRejectionsTotal.WithLabelValues(norm(reason)).Inc()
}

func IncAdmissionDeferral() {
	admissionDeferralsTotal.Inc()
}

func IncAPIRateLimited() {
	apiRateLimitedTotal.Inc()
}
