package metrics

import (
	"net/http"

	"github.com/ethereum/go-ethereum/metrics/prometheus"
)

// PrometheusPath is the HTTP path the exporter is conventionally mounted on.
const PrometheusPath = "/debug/metrics/prometheus"

// Handler serves Registry in Prometheus text exposition format.
func Handler() http.Handler {
	return prometheus.Handler(Registry)
}
