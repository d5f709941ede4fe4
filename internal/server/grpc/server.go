// Package grpcserver hosts the engine's gRPC endpoint: health per control loop
// and reflection in dev mode.
package grpcserver

import (
	"net"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Server wraps a grpc.Server whose health reflects the last run of each component.
type Server struct {
	srv    *grpc.Server
	health *health.Server
	log    *zap.Logger

	mu     sync.Mutex
	failed map[string]bool
}

// New builds the server with recover and logging interceptors on unary and
// stream calls (health Watch, reflection). Components
// start as SERVING; the overall ("") service is SERVING while none has failed.
func New(log *zap.Logger, dev bool, components []string, opts ...grpc.ServerOption) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	opts = append(opts,
		grpc.ChainUnaryInterceptor(RecoverUnary(log), LoggingUnary(log)),
		grpc.ChainStreamInterceptor(RecoverStream(log), LoggingStream(log)),
	)
	s := &Server{
		srv:    grpc.NewServer(opts...),
		health: health.NewServer(),
		log:    log,
		failed: map[string]bool{},
	}
	healthpb.RegisterHealthServer(s.srv, s.health)
	if dev {
		reflection.Register(s.srv)
	}
	for _, c := range components {
		s.health.SetServingStatus(c, healthpb.HealthCheckResponse_SERVING)
	}
	return s
}

// Report records the outcome of a component's last run.
func (s *Server) Report(component string, err error) {
	st := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.failed[component]
	if err != nil {
		s.failed[component] = true
	} else {
		delete(s.failed, component)
	}
	s.health.SetServingStatus(component, st)
	if was != (err != nil) {
		s.log.Info("component health changed", zap.String("component", component), zap.String("status", st.String()))
	}

	overall := healthpb.HealthCheckResponse_SERVING
	if len(s.failed) > 0 {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", overall)
}

// Failing lists components whose last run failed.
func (s *Server) Failing() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.failed))
	for c := range s.failed {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Serve blocks serving lis.
func (s *Server) Serve(lis net.Listener) error {
	return s.srv.Serve(lis)
}

// Shutdown stops gracefully, forcing a stop after timeout.
func (s *Server) Shutdown(timeout time.Duration) {
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.srv.Stop()
	}
}
