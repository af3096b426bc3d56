package trustcoin

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	MetricNameSpace = "trustcoin"
)

var (
	syncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricNameSpace,
			Name:      "sync_runs_total",
			Help:      "whitelist reconciliation runs",
		},
		[]string{"result"},
	)
	whitelistMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricNameSpace,
			Name:      "whitelist_mutations_total",
			Help:      "whitelist add/remove transactions by outcome",
		},
		[]string{"action", "result"},
	)
	claimTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricNameSpace,
			Name:      "claims_total",
			Help:      "claim requests by outcome",
		},
		[]string{"result"},
	)
	pendingMints = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: MetricNameSpace,
			Name:      "pending_mints",
			Help:      "claim reservations waiting for a mint receipt",
		},
	)
)

func init() {
	prometheus.MustRegister(
		syncRuns,
		whitelistMutations,
		claimTotal,
		pendingMints,
	)
}

func metricSync(result string) {
	syncRuns.WithLabelValues(result).Inc()
}

func metricMutation(allowed bool, result string) {
	action := "remove"
	if allowed {
		action = "add"
	}
	whitelistMutations.WithLabelValues(action, result).Inc()
}

func metricClaim(result string) {
	claimTotal.WithLabelValues(result).Inc()
}

func metricPendingMints(n int) {
	pendingMints.Set(float64(n))
}
