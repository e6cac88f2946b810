// Package server builds a gRPC server around the diagnostic interceptor chains.
package server

import (
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/rainbow-me/platform-mdc/grpc/interceptors"
)

// DefaultGRPCMaxMsgSize is the max message size in bytes the server can receive or send.
const DefaultGRPCMaxMsgSize = 1024 * 1024 * 10

// Server is a gRPC server with the standard health service registered.
type Server struct {
	*grpc.Server
	Health *health.Server
}

type config struct {
	reflection bool
	options    []grpc.ServerOption
}

type Option func(*config)

// WithReflection registers the reflection service, for grpcurl and similar tools.
func WithReflection() Option {
	return func(c *config) {
		c.reflection = true
	}
}

// WithServerOptions appends raw options. They can override the defaults.
func WithServerOptions(opts ...grpc.ServerOption) Option {
	return func(c *config) {
		c.options = append(c.options, opts...)
	}
}

// New builds a server running the given chains. Either chain may be nil. Calls to unknown
// services are answered with Unimplemented after passing through the stream chain.
func New(
	unaryChain *interceptors.UnaryServerInterceptorChain,
	streamChain *interceptors.StreamServerInterceptorChain,
	opts ...Option,
) *Server {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	serverOptions := []grpc.ServerOption{
		grpc.UnknownServiceHandler(func(any, grpc.ServerStream) error {
			return status.Error(codes.Unimplemented, "unknown route")
		}),
		grpc.MaxRecvMsgSize(DefaultGRPCMaxMsgSize),
		grpc.MaxSendMsgSize(DefaultGRPCMaxMsgSize),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	if unaryChain != nil {
		serverOptions = append(serverOptions, grpc.UnaryInterceptor(interceptors.CommitUnaryServer(unaryChain)))
	}
	if streamChain != nil {
		serverOptions = append(serverOptions, grpc.StreamInterceptor(interceptors.CommitStreamServer(streamChain)))
	}
	serverOptions = append(serverOptions, cfg.options...)

	s := &Server{
		Server: grpc.NewServer(serverOptions...),
		Health: health.NewServer(),
	}
	healthpb.RegisterHealthServer(s.Server, s.Health)
	if cfg.reflection {
		reflection.Register(s.Server)
	}
	return s
}

// NewDefault builds a server with the default unary and stream chains for serviceName.
func NewDefault(serviceName string, chainOpts []interceptors.ConfigOption, opts ...Option) *Server {
	return New(
		interceptors.NewDefaultServerUnaryChain(serviceName, chainOpts...),
		interceptors.NewDefaultServerStreamChain(serviceName, chainOpts...),
		opts...,
	)
}

// Shutdown marks every service as not serving, then stops gracefully.
func (s *Server) Shutdown() {
	s.Health.Shutdown()
	s.GracefulStop()
}
