// Package metrics registers the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "yattee"

// Metrics holds every collector the server updates.
type Metrics struct {
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	BackendCalls     *prometheus.CounterVec
	BackendFallbacks *prometheus.CounterVec

	ChannelFetches      *prometheus.CounterVec
	FeedCycleDuration   prometheus.Histogram
	ChannelsFetchingNow prometheus.Gauge

	ProxyActiveDownloads prometheus.Gauge
	ProxyRejected        prometheus.Counter
	ProxySweptFiles      prometheus.Counter
	ArchiveUploads       *prometheus.CounterVec

	AuthFailures    prometheus.Counter
	AuthRateLimited prometheus.Counter
}

// New creates and registers all collectors on reg. A nil reg uses a private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache hits by resource class.",
		}, []string{"class"}),
		CacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache misses by resource class.",
		}, []string{"class"}),
		BackendCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "backend_calls_total",
			Help:      "Backend calls by resource class, backend and outcome.",
		}, []string{"class", "backend", "outcome"}),
		BackendFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "fallbacks_total",
			Help:      "Fallbacks from Invidious to yt-dlp by reason.",
		}, []string{"class", "reason"}),
		ChannelFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "channel_fetches_total",
			Help:      "Background channel fetches by status.",
		}, []string{"status"}),
		FeedCycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a full feed refresh cycle.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		ChannelsFetchingNow: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "channels_fetching",
			Help:      "Channels with a fetch currently in flight.",
		}),
		ProxyActiveDownloads: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "active_downloads",
			Help:      "Proxy downloads currently holding a slot.",
		}),
		ProxyRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "rejected_total",
			Help:      "Proxy requests rejected because every slot was taken.",
		}),
		ProxySweptFiles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "swept_files_total",
			Help:      "Staged proxy files removed by the sweeper.",
		}),
		ArchiveUploads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "archive_uploads_total",
			Help:      "Archive uploads of completed downloads by outcome.",
		}, []string{"outcome"}),
		AuthFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "failures_total",
			Help:      "Failed basic auth attempts.",
		}),
		AuthRateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "rate_limited_total",
			Help:      "Requests refused because the client exceeded the failed auth budget.",
		}),
	}
}
