package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves both the hand-rolled domain counters and the ambient
// Go/process runtime collectors on one /metrics endpoint, the way the
// teacher's ws/metrics.go serves prometheus.Handler() alongside its own
// registered collectors — here the two writers are stitched into a single
// response body since the domain counters aren't prometheus.Collectors.
func (r *Registry) Handler() http.Handler {
	runtimeRegistry := prometheus.NewRegistry()
	runtimeRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	runtimePromHandler := promhttp.HandlerFor(runtimeRegistry, promhttp.HandlerOpts{})

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		if err := r.WriteText(w); err != nil {
			return
		}
		runtimePromHandler.ServeHTTP(w, req)
	})
}
