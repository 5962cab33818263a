// Package metrics holds the Prometheus instruments of the image loader.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tier label values
const (
	TierDecoded    = "decoded"
	TierCompressed = "compressed"
	TierDisk       = "disk"
)

// Metrics groups the loader's counters and gauges
type Metrics struct {
	Requests prometheus.Counter
	Hits     *prometheus.CounterVec
	Fetches  prometheus.Counter
	Failures *prometheus.CounterVec
	Pending  prometheus.Gauge
	Purges   *prometheus.CounterVec
}

// New registers the loader metrics with reg. A nil reg creates unregistered
// instruments, which is what tests that build many loaders want.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounter(prometheus.CounterOpts{
			Namespace: "imagecache",
			Name:      "load_requests_total",
			Help:      "Load calls received.",
		}),
		Hits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagecache",
			Name:      "tier_hits_total",
			Help:      "Loads answered by a cache tier.",
		}, []string{"tier"}),
		Fetches: f.NewCounter(prometheus.CounterOpts{
			Namespace: "imagecache",
			Name:      "network_fetches_total",
			Help:      "Network fetches issued.",
		}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagecache",
			Name:      "failures_total",
			Help:      "Failures by error code.",
		}, []string{"code"}),
		Pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "imagecache",
			Name:      "pending_identifiers",
			Help:      "Identifiers with a resolution chain in progress.",
		}),
		Purges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagecache",
			Name:      "purges_total",
			Help:      "Cache purges by scope.",
		}, []string{"scope"}),
	}
}
