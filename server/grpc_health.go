package server

import (
	"context"
	"errors"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// grpcHealth expõe o protocolo padrão grpc.health.v1 espelhando o /health.
type grpcHealth struct {
	srv    *grpc.Server
	status *health.Server
}

func newGRPCHealth(service string) *grpcHealth {
	status := health.NewServer()
	status.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	status.SetServingStatus(service, healthpb.HealthCheckResponse_SERVING)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, status)
	return &grpcHealth{srv: srv, status: status}
}

func (h *grpcHealth) Serve(ln net.Listener) error {
	if err := h.srv.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Shutdown marca NOT_SERVING e para o servidor; se ctx vencer, força Stop.
func (h *grpcHealth) Shutdown(ctx context.Context) error {
	h.status.Shutdown()

	done := make(chan struct{})
	go func() {
		h.srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		h.srv.Stop()
		return ctx.Err()
	}
}
