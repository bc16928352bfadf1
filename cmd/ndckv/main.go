package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devrev/ndckv/internal/client"
	"github.com/devrev/ndckv/internal/config"
	"github.com/devrev/ndckv/internal/gateway"
	"github.com/devrev/ndckv/internal/handler"
	"github.com/devrev/ndckv/internal/health"
	"github.com/devrev/ndckv/internal/metrics"
	"github.com/devrev/ndckv/internal/server"
	"github.com/devrev/ndckv/internal/service"
	"github.com/devrev/ndckv/internal/util/workerpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	self := cfg.NodeID()
	logger.Info("Configuration loaded",
		zap.Int("node_id", int(self)),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("strategy", cfg.Cluster.Strategy),
		zap.Int("members", len(cfg.Cluster.Nodes)))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(self, registry)
	rpcMetrics := metrics.NewRPCMetrics(registry)

	dialOpts := append(rpcMetrics.DialOptions(), grpc.WithKeepaliveParams(keepalive.ClientParameters{
		Time:    cfg.Server.KeepaliveInterval,
		Timeout: cfg.Server.RPCTimeout,
	}))
	peers := client.NewDirectory(cfg.PeerAddresses(), cfg.Server.RPCTimeout, logger, dialOpts...)
	defer peers.Close()

	fanout := workerpool.NewWorkerPool(&workerpool.Config{
		Name:       "fanout",
		MaxWorkers: cfg.Replication.FanoutWorkers,
		QueueSize:  cfg.Replication.FanoutQueueSize,
		Logger:     logger,
	})

	node := service.NewNode(
		&service.NodeConfig{
			NodeID:          self,
			LockTimeout:     cfg.Consistency.LockTimeout,
			RPCTimeout:      cfg.Server.RPCTimeout,
			FifoBufferLimit: cfg.Consistency.FifoBufferLimit,
			ReadLevel:       cfg.Consistency.ReadLevel,
		},
		cfg.Strategy(),
		peers,
		fanout,
		health.NewPeerTracker(cfg.Background.HeartbeatStaleAfter, logger),
		m,
		logger,
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	// Initialize gossip service if enabled
	var (
		gossipSvc *service.GossipService
		members   server.Membership
	)
	if cfg.Gossip.Enabled {
		gossipSvc, err = service.NewGossipService(
			&service.GossipConfig{
				Enabled:        cfg.Gossip.Enabled,
				BindAddr:       cfg.Gossip.BindAddr,
				BindPort:       cfg.Gossip.BindPort,
				SeedNodes:      cfg.Gossip.SeedNodes,
				GossipInterval: cfg.Gossip.GossipInterval,
				ProbeTimeout:   cfg.Gossip.ProbeTimeout,
				ProbeInterval:  cfg.Gossip.ProbeInterval,
			},
			self,
			advertisedAddress(cfg),
			m,
			logger,
		)
		if err != nil {
			logger.Error("Failed to initialize gossip service", zap.Error(err))
		} else {
			node.SetMembership(gossipSvc)
			members = gossipSvc
			logger.Info("Gossip service initialized")
		}
	}

	serverOpts := append(rpcMetrics.ServerOptions(),
		grpc.MaxConcurrentStreams(uint32(cfg.Server.MaxConnections)),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             cfg.Server.KeepaliveInterval / 2,
			PermitWithoutStream: true,
		}),
	)
	grpcServer := grpc.NewServer(serverOpts...)
	handler.NewNodeHandler(node, logger).Register(grpcServer)
	rpcMetrics.InitializeServer(grpcServer)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal("Failed to listen", zap.Error(err))
	}

	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = server.NewMetricsServer(
			&server.MetricsServerConfig{Host: cfg.Server.Host, Port: cfg.Metrics.Port},
			node, members, registry, m, logger,
		)
		if err := metricsServer.Start(); err != nil {
			logger.Fatal("Failed to start metrics server", zap.Error(err))
		}
	}

	var httpGateway *gateway.Gateway
	if cfg.HTTP.Enabled {
		httpGateway = gateway.New(&gateway.Config{
			Host:           cfg.Server.Host,
			Port:           cfg.HTTP.Port,
			RequestTimeout: cfg.HTTP.RequestTimeout,
			RateLimit:      cfg.HTTP.RateLimit,
			Burst:          cfg.HTTP.Burst,
		}, node, logger)
		httpGateway.Start()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := service.NewScheduler(&service.SchedulerConfig{
		AntiEntropyInterval: cfg.Background.AntiEntropyInterval,
		HeartbeatInterval:   cfg.Background.HeartbeatInterval,
		StripInterval:       cfg.Background.StripInterval,
		Jitter:              cfg.Background.Jitter,
		IterationTimeout:    cfg.Background.IterationTimeout,
	}, node, m, logger)
	schedulerDone := make(chan error, 1)
	go func() {
		schedulerDone <- scheduler.Run(ctx)
	}()

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- grpcServer.Serve(listener)
	}()

	logger.Info("Node service started", zap.String("address", addr))

	select {
	case err := <-serverErrors:
		logger.Error("Server error", zap.Error(err))
		stop()
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	}

	logger.Info("Shutting down gracefully")
	if httpGateway != nil {
		gwCtx, gwCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		if err := httpGateway.Stop(gwCtx); err != nil {
			logger.Warn("HTTP gateway stop failed", zap.Error(err))
		}
		gwCancel()
	}
	shutdown(cfg.Server.ShutdownTimeout, grpcServer, logger)

	if err := <-schedulerDone; err != nil {
		logger.Warn("Scheduler stopped with error", zap.Error(err))
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	if err := fanout.Flush(flushCtx); err != nil {
		logger.Warn("Pending replication not delivered", zap.Error(err))
	}
	cancel()
	if err := fanout.Stop(5 * time.Second); err != nil {
		logger.Warn("Fan-out pool stop failed", zap.Error(err))
	}

	if gossipSvc != nil {
		if err := gossipSvc.Shutdown(5 * time.Second); err != nil {
			logger.Warn("Gossip shutdown failed", zap.Error(err))
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Warn("Metrics server stop failed", zap.Error(err))
		}
	}

	logger.Info("Node service stopped")
}

// shutdown stops the gRPC server, forcing it when draining takes too long
func shutdown(timeout time.Duration, grpcServer *grpc.Server, logger *zap.Logger) {
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		logger.Info("gRPC server stopped gracefully")
	case <-time.After(timeout):
		logger.Warn("gRPC server stop timeout, forcing shutdown")
		grpcServer.Stop()
	}
}

// advertisedAddress is the RPC address peers should use to reach this node
func advertisedAddress(cfg *config.Config) string {
	for _, n := range cfg.Cluster.Nodes {
		if n.ID == cfg.Server.NodeID {
			return n.Address
		}
	}
	return fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
}

// initLogger initializes the zap logger
func initLogger(cfg *config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
