package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry  *prometheus.Registry
	nodeReady prometheus.Gauge
	checks    *prometheus.CounterVec
}

func newMetrics(reg *prometheus.Registry) *metrics {
	m := &metrics{
		registry: reg,
		nodeReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "microk8s_agent_node_ready",
			Help: "Whether the local MicroK8s node reports Ready (1) or not (0).",
		}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "microk8s_agent_status_checks_total",
			Help: "Node status checks by resulting unit status.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.nodeReady, m.checks)
	return m
}

type statusResponse struct {
	Hostname string `json:"hostname"`
	Status   string `json:"status"`
	Message  string `json:"message"`
}

// Router serves metrics and the last node status over HTTP.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	path := s.config.Metrics.Path
	if path == "" {
		path = "/metrics"
	}
	r.Method(http.MethodGet, path, promhttp.HandlerFor(s.m.registry, promhttp.HandlerOpts{}))

	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		last := s.Last()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(statusResponse{
			Hostname: s.hostname,
			Status:   string(last.Kind),
			Message:  last.Message,
		})
	})
	return r
}
