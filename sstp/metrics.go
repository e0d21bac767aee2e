package sstp

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "nanika",
		Subsystem: "sstp",
		Name:      "requests_total",
		Help:      "SSTP requests by method and response status.",
	},
	[]string{"method", "status"},
)

func observe(method string, status int) {
	if method == "" {
		method = "unknown"
	}
	requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
}
