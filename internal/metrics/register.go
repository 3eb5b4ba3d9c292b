// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var registerOnce sync.Once

// Register registers the domain collectors with the default registry.
// Safe to call more than once; HTTP collectors register themselves at init.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(embeddingCollectors()...)
		prometheus.MustRegister(pipelineCollectors()...)
	})
}
