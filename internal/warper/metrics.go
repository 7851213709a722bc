package warper

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	workers  prometheus.Gauge
	rss      prometheus.Gauge
	recycles prometheus.Counter
	requests *prometheus.CounterVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *metrics
)

// newMetrics registers the farm gauges once on the default registry;
// farms created later (tests, restarts) share them.
func newMetrics() *metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &metrics{
			workers: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "cartolina_warper_workers",
				Help: "Live warper worker processes.",
			}),
			rss: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "cartolina_warper_rss_bytes",
				Help: "Aggregate worker RSS observed by housekeeping.",
			}),
			recycles: promauto.NewCounter(prometheus.CounterOpts{
				Name: "cartolina_warper_recycles_total",
				Help: "Workers recycled for RSS or request-count budget.",
			}),
			requests: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "cartolina_warper_requests_total",
				Help: "Warp requests by outcome.",
			}, []string{"status"}),
		}
	})
	return sharedMetrics
}

func (m *metrics) observe(s Status) {
	label := "ok"
	switch s {
	case StatusError:
		label = "error"
	case StatusCancelled:
		label = "cancelled"
	case statusLost:
		label = "worker-lost"
	}
	m.requests.WithLabelValues(label).Inc()
}
