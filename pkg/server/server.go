// Package server runs the node health daemon: a gRPC health service whose
// serving status follows the MicroK8s node, and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"microk8s-operator/config"
	"microk8s-operator/pkg/cluster"
)

// ServiceName is the health service reporting the local node.
const ServiceName = "microk8s.node"

// StatusSource reports the status of a MicroK8s node.
type StatusSource interface {
	GetUnitStatus(ctx context.Context, hostname string) cluster.Status
}

// Server represents the health daemon
type Server struct {
	config   *config.Config
	source   StatusSource
	hostname string
	log      logrus.FieldLogger

	grpc   *grpc.Server
	health *health.Server
	http   *http.Server
	m      *metrics

	mu   sync.RWMutex
	last cluster.Status
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, source StatusSource, hostname string, log logrus.FieldLogger) *Server {
	opts := []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 15 * time.Second,
			Time:              5 * time.Second,
			Timeout:           1 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}

	s := &Server{
		config:   cfg,
		source:   source,
		hostname: hostname,
		log:      log.WithField("hostname", hostname),
		grpc:     grpc.NewServer(opts...),
		health:   health.NewServer(),
		m:        newMetrics(prometheus.NewRegistry()),
		last:     cluster.WaitingStatus("node status not checked yet"),
	}
	// Not serving until the first check says otherwise.
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	return s
}

// Check queries the node once and publishes the result.
func (s *Server) Check(ctx context.Context) cluster.Status {
	status := s.source.GetUnitStatus(ctx, s.hostname)

	serving := healthpb.HealthCheckResponse_NOT_SERVING
	ready := 0.0
	if status.Kind == cluster.StatusActive {
		serving = healthpb.HealthCheckResponse_SERVING
		ready = 1
	}
	s.health.SetServingStatus("", serving)
	s.health.SetServingStatus(ServiceName, serving)
	s.m.nodeReady.Set(ready)
	s.m.checks.WithLabelValues(string(status.Kind)).Inc()

	s.mu.Lock()
	changed := s.last != status
	s.last = status
	s.mu.Unlock()
	if changed {
		s.log.WithField("status", status.String()).Info("Node status changed")
	}
	return status
}

// Last returns the result of the most recent check.
func (s *Server) Last() cluster.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	address := s.config.Server.Address()
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	s.log.Infof("Starting health server on %s", address)

	go func() {
		if err := s.grpc.Serve(listener); err != nil {
			s.log.WithError(err).Error("gRPC server error")
		}
	}()

	if s.config.Metrics.Enabled {
		s.http = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Metrics.Port),
			Handler:           s.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			s.log.Infof("Serving metrics on %s%s", s.http.Addr, s.config.Metrics.Path)
			if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.WithError(err).Error("Metrics server error")
			}
		}()
	}

	s.poll(ctx)
	return s.Stop()
}

func (s *Server) poll(ctx context.Context) {
	s.Check(ctx)
	ticker := time.NewTicker(s.config.Serve.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}

// Stop stops the server gracefully
func (s *Server) Stop() error {
	s.log.Info("Stopping health server...")
	s.health.Shutdown()

	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("Metrics server shutdown")
		}
	}

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("Server stopped gracefully")
	case <-time.After(30 * time.Second):
		s.log.Warn("Force stopping server...")
		s.grpc.Stop()
	}
	return nil
}
