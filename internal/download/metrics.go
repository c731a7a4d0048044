package download

import "github.com/prometheus/client_golang/prometheus"

var (
	downloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llmd",
			Name:      "downloads_total",
			Help:      "Finished download tasks by final status",
		},
		[]string{"status"},
	)

	downloadBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "llmd",
			Name:      "download_bytes_total",
			Help:      "Bytes written to disk by download items",
		},
	)

	downloadsInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "llmd",
			Name:      "downloads_inflight",
			Help:      "Download tasks currently executing",
		},
	)
)

func init() {
	prometheus.MustRegister(downloadsTotal, downloadBytesTotal, downloadsInflight)
}
