package events

import "github.com/prometheus/client_golang/prometheus"

var eventsPublished = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "llmd",
		Name:      "events_published_total",
		Help:      "Events accepted by the bus, by topic",
	},
	[]string{"type"},
)

func init() {
	prometheus.MustRegister(eventsPublished)
}
