package reputation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var requestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "trustcoin",
		Subsystem: "reputation",
		Name:      "request_seconds",
		Help:      "reputation provider request latency",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"endpoint", "result"},
)

func init() {
	prometheus.MustRegister(requestDuration)
}

func observeRequest(endpoint, result string, start time.Time) {
	requestDuration.WithLabelValues(endpoint, result).Observe(time.Since(start).Seconds())
}
