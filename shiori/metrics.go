package shiori

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultOK         = "ok"
	resultEmpty      = "empty"
	resultTimeout    = "timeout"
	resultTerminated = "terminated"
	resultError      = "error"
)

var (
	metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nanika",
		Name:      "shiori_requests_total",
		Help:      "Requests sent to the personality, by event and result.",
	}, []string{"event", "result"})
	metricRequestSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "nanika",
		Name:      "shiori_request_seconds",
		Help:      "Time from writing a request to reading the complete response.",
		Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
	})
)

// Events forwarded from SSTP are arbitrary names; only these get their own label.
var labeledEvents = map[string]bool{
	"Version":        true,
	"OnBoot":         true,
	"OnClose":        true,
	"OnMouseClick":   true,
	"OnSecondChange": true,
	"OnTalk":         true,
	"OnChoiceSelect": true,
}

func observe(event, result string, elapsed time.Duration) {
	if !labeledEvents[event] {
		event = "other"
	}
	metricRequests.WithLabelValues(event, result).Inc()
	if result == resultOK || result == resultEmpty {
		metricRequestSeconds.Observe(elapsed.Seconds())
	}
}
