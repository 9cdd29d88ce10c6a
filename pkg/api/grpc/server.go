package grpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/aescanero/evalpipe/internal/application/evaluation"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service reported for the evaluation
const ServiceName = "evalpipe.Evaluation"

const defaultPollInterval = 500 * time.Millisecond

// EvaluationState is the part of an evaluation the gRPC API watches
type EvaluationState interface {
	State() evaluation.State
}

// Server represents the gRPC API server
type Server struct {
	server     *grpc.Server
	listener   net.Listener
	health     *health.Server
	evaluation EvaluationState
	interval   time.Duration
	logger     *zap.Logger

	done     chan struct{}
	stopOnce sync.Once
}

// Config holds gRPC server configuration
type Config struct {
	Port       int
	Evaluation EvaluationState
	// Listener replaces the TCP listener on Port when set
	Listener     net.Listener
	PollInterval time.Duration
	Logger       *zap.Logger
}

// NewServer creates a new gRPC server exposing the health and reflection
// services
func NewServer(cfg *Config) (*Server, error) {
	listener := cfg.Listener
	if listener == nil {
		var err error
		listener, err = net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
		if err != nil {
			return nil, fmt.Errorf("failed to create listener: %w", err)
		}
	}

	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	s := &Server{
		server:     grpcServer,
		listener:   listener,
		health:     healthServer,
		evaluation: cfg.Evaluation,
		interval:   interval,
		logger:     cfg.Logger,
		done:       make(chan struct{}),
	}
	s.refresh()

	return s, nil
}

// Addr returns the address the server listens on
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start starts the gRPC server and follows the evaluation state until Shutdown
func (s *Server) Start() error {
	s.logger.Info("starting gRPC server", zap.String("addr", s.listener.Addr().String()))

	go s.watch()

	if err := s.server.Serve(s.listener); err != nil {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gRPC server")

	s.stopOnce.Do(func() { close(s.done) })
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.server.Stop()
		return ctx.Err()
	}

	s.logger.Info("gRPC server shut down complete")
	return nil
}

func (s *Server) watch() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.refresh()
		}
	}
}

// refresh reports SERVING only while the evaluation is running
func (s *Server) refresh() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s.evaluation != nil && s.evaluation.State() == evaluation.StateRunning {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}
