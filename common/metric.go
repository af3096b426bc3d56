package common

import (
	"net/http"
	"os"

	"github.com/gorilla/handlers"
	_ "github.com/mkevac/debugcharts"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var log = NewLog("common")

// NewMetricServer serves /metrics and /debug/charts on port, e.g. ":9000".
func NewMetricServer(port string) *http.Server {
	log.Info("Starting metric server", "listen", port)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/debug/", http.DefaultServeMux) // debugcharts registers on the default mux
	srv := &http.Server{
		Addr:    port,
		Handler: handlers.RecoveryHandler()(handlers.CombinedLoggingHandler(os.Stdout, mux)),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metric server stopped", "err", err)
		}
	}()
	return srv
}
