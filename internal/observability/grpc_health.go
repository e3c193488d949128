package observability

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCHealth exposes the pipeline state through the standard gRPC health service
type GRPCHealth struct {
	server *health.Server
}

// NewGRPCHealth creates a health server that reports SERVING until state halts
func NewGRPCHealth(state *PipelineState) *GRPCHealth {
	g := &GRPCHealth{server: health.NewServer()}
	g.set(state.Running())
	state.OnHalt(func(reason string) {
		GetLogger().Warn().Str("reason", reason).Msg("gRPC health switched to NOT_SERVING")
		g.set(false)
	})
	return g
}

// Register attaches the health service to a gRPC server
func (g *GRPCHealth) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, g.server)
}

// Server returns the underlying health server
func (g *GRPCHealth) Server() *health.Server {
	return g.server
}

// Shutdown marks every service NOT_SERVING
func (g *GRPCHealth) Shutdown() {
	g.server.Shutdown()
}

func (g *GRPCHealth) set(serving bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !serving {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	// The empty name is the overall server status
	g.server.SetServingStatus("", status)
	g.server.SetServingStatus(ServiceName, status)
}
