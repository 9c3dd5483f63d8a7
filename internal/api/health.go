package api

import (
	"context"
	"errors"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the gRPC health service name that tracks the control
// loop. The empty service name reports the process itself.
const HealthService = "rover.control"

// Health publishes control loop liveness over the standard gRPC health
// protocol.
type Health struct {
	srv *health.Server
}

// NewHealth returns a health service with the control loop NOT_SERVING.
func NewHealth() *Health {
	h := &Health{srv: health.NewServer()}
	h.srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.srv.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register installs the health service on s.
func (h *Health) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// SetServing reports whether the control loop is running.
func (h *Health) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.srv.SetServingStatus(HealthService, st)
}

// Track reports SERVING for as long as run is executing.
func (h *Health) Track(run func() error) error {
	h.SetServing(true)
	defer h.SetServing(false)
	return run()
}

// Check reports the current status of service.
func (h *Health) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := h.srv.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// ServeGRPC serves the health service on lis until ctx is done, then
// marks everything NOT_SERVING and stops gracefully.
func ServeGRPC(ctx context.Context, lis net.Listener, h *Health) error {
	s := grpc.NewServer()
	h.Register(s)

	errc := make(chan error, 1)
	go func() {
		logf("gRPC health listening on %s", lis.Addr())
		errc <- s.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		h.srv.Shutdown()
		s.GracefulStop()
		if err := <-errc; err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	case err := <-errc:
		return err
	}
}
