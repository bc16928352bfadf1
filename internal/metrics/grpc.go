package metrics

import (
	grpcprom "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
)

// RPCMetrics counts and times the node service calls on both ends
type RPCMetrics struct {
	Server *grpcprom.ServerMetrics
	Client *grpcprom.ClientMetrics
}

// NewRPCMetrics creates the gRPC interceptor metrics and registers them
// with reg. Handling-time histograms are enabled for both sides.
func NewRPCMetrics(reg prometheus.Registerer) *RPCMetrics {
	m := &RPCMetrics{
		Server: grpcprom.NewServerMetrics(),
		Client: grpcprom.NewClientMetrics(),
	}
	m.Server.EnableHandlingTimeHistogram()
	m.Client.EnableClientHandlingTimeHistogram()
	reg.MustRegister(m.Server, m.Client)
	return m
}

// ServerOptions returns the options that instrument a gRPC server
func (m *RPCMetrics) ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{grpc.ChainUnaryInterceptor(m.Server.UnaryServerInterceptor())}
}

// DialOptions returns the options that instrument outgoing peer calls
func (m *RPCMetrics) DialOptions() []grpc.DialOption {
	return []grpc.DialOption{grpc.WithChainUnaryInterceptor(m.Client.UnaryClientInterceptor())}
}

// InitializeServer pre-populates the per-method series of every service
// registered on s
func (m *RPCMetrics) InitializeServer(s *grpc.Server) {
	m.Server.InitializeMetrics(s)
}
