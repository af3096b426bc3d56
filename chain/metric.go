package chain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	signerNonce = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "trustcoin",
			Subsystem: "chain",
			Name:      "signer_next_nonce",
			Help:      "next nonce the allocator will hand out",
		},
		[]string{"account"},
	)
	txTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustcoin",
			Subsystem: "chain",
			Name:      "tx_total",
			Help:      "transactions by method and final status",
		},
		[]string{"method", "status"},
	)
)

func init() {
	prometheus.MustRegister(signerNonce, txTotal)
}

func metricNonce(account common.Address, next uint64) {
	signerNonce.WithLabelValues(account.Hex()).Set(float64(next))
}

func metricTx(method, status string) {
	txTotal.WithLabelValues(method, status).Inc()
}
