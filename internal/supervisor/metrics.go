package supervisor

import "github.com/prometheus/client_golang/prometheus"

var (
	workersLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "llmd",
			Name:      "workers_loaded",
			Help:      "Workers in the running state",
		},
	)

	workerLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llmd",
			Name:      "worker_loads_total",
			Help:      "LoadModel attempts by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(workersLoaded, workerLoads)
}
