package monitor

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health-check service reported for the radar pipeline.
const ServiceName = "mmwave.Radar"

// Health is a gRPC health service whose ServiceName status follows the
// pipeline. It starts NOT_SERVING.
type Health struct {
	srv *health.Server
}

func NewHealth() *Health {
	h := &Health{srv: health.NewServer()}
	h.srv.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register adds the health service to s.
func (h *Health) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

func (h *Health) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.srv.SetServingStatus(ServiceName, status)
}

// Shutdown marks every service NOT_SERVING and ends watch streams.
func (h *Health) Shutdown() {
	h.srv.Shutdown()
}

// Server exposes the underlying health server.
func (h *Health) Server() healthpb.HealthServer {
	return h.srv
}
