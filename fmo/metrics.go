package fmo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var writesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "nanika",
		Subsystem: "fmo",
		Name:      "writes_total",
		Help:      "Mailbox writes by result.",
	},
	[]string{"result"},
)
