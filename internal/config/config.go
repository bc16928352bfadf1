package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/devrev/ndckv/internal/algorithm"
	"github.com/devrev/ndckv/internal/model"
	"gopkg.in/yaml.v3"
)

// Replication strategies accepted in cluster.strategy
const (
	StrategyAll  = "all"
	StrategyRing = "ring"
)

// ServerConfig holds the gRPC server configuration
type ServerConfig struct {
	NodeID          int           `yaml:"node_id"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	MaxConnections  int           `yaml:"max_connections"`
	RPCTimeout      time.Duration `yaml:"rpc_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// KeepaliveInterval pings idle peer connections
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
}

// NodeAddress is one member of the static cluster
type NodeAddress struct {
	ID      int    `yaml:"id"`
	Address string `yaml:"address"`
}

// ClusterConfig holds the membership and placement of keys
type ClusterConfig struct {
	Nodes             []NodeAddress `yaml:"nodes"`
	Strategy          string        `yaml:"strategy"`
	ReplicationFactor int           `yaml:"replication_factor"`
	VirtualNodes      int           `yaml:"virtual_nodes"`
}

// ConsistencyConfig holds read defaults and store limits
type ConsistencyConfig struct {
	ReadLevel       string        `yaml:"read_level"`
	LockTimeout     time.Duration `yaml:"lock_timeout"`
	FifoBufferLimit uint64        `yaml:"fifo_buffer_limit"`
}

// BackgroundConfig holds the intervals of the periodic tasks
type BackgroundConfig struct {
	AntiEntropyInterval time.Duration `yaml:"anti_entropy_interval"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
	StripInterval       time.Duration `yaml:"strip_interval"`
	Jitter              time.Duration `yaml:"jitter"`
	IterationTimeout    time.Duration `yaml:"iteration_timeout"`
	HeartbeatStaleAfter time.Duration `yaml:"heartbeat_stale_after"`
}

// ReplicationConfig sizes the update fan-out pool
type ReplicationConfig struct {
	FanoutWorkers   int `yaml:"fanout_workers"`
	FanoutQueueSize int `yaml:"fanout_queue_size"`
}

// GossipConfig holds gossip protocol configuration
type GossipConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BindAddr       string        `yaml:"bind_addr"`
	BindPort       int           `yaml:"bind_port"`
	SeedNodes      []string      `yaml:"seed_nodes"`
	GossipInterval time.Duration `yaml:"gossip_interval"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	ProbeInterval  time.Duration `yaml:"probe_interval"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// HTTPConfig holds the HTTP key-value gateway configuration
type HTTPConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RateLimit      float64       `yaml:"rate_limit"`
	Burst          int           `yaml:"burst"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config represents the complete configuration of a node
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Cluster     ClusterConfig     `yaml:"cluster"`
	Consistency ConsistencyConfig `yaml:"consistency"`
	Background  BackgroundConfig  `yaml:"background"`
	Replication ReplicationConfig `yaml:"replication"`
	Gossip      GossipConfig      `yaml:"gossip"`
	HTTP        HTTPConfig        `yaml:"http"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// LoadConfig loads configuration from a file. NODE_ID in the environment
// overrides server.node_id.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a YAML configuration
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if v := os.Getenv("NODE_ID"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid NODE_ID %q: %w", v, err)
		}
		cfg.Server.NodeID = id
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 50052
	}
	if cfg.Server.MaxConnections == 0 {
		cfg.Server.MaxConnections = 1000
	}
	if cfg.Server.RPCTimeout == 0 {
		cfg.Server.RPCTimeout = 5 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Server.KeepaliveInterval == 0 {
		cfg.Server.KeepaliveInterval = 30 * time.Second
	}

	if cfg.Cluster.Strategy == "" {
		cfg.Cluster.Strategy = StrategyAll
	}
	if cfg.Cluster.ReplicationFactor == 0 {
		cfg.Cluster.ReplicationFactor = 3
	}
	if cfg.Cluster.VirtualNodes == 0 {
		cfg.Cluster.VirtualNodes = 150
	}

	if cfg.Consistency.ReadLevel == "" {
		cfg.Consistency.ReadLevel = algorithm.LevelQuorum
	}
	if cfg.Consistency.LockTimeout == 0 {
		cfg.Consistency.LockTimeout = 15 * time.Second
	}
	if cfg.Consistency.FifoBufferLimit == 0 {
		cfg.Consistency.FifoBufferLimit = 1000
	}

	if cfg.Background.AntiEntropyInterval == 0 {
		cfg.Background.AntiEntropyInterval = 5 * time.Second
	}
	if cfg.Background.HeartbeatInterval == 0 {
		cfg.Background.HeartbeatInterval = 10 * time.Second
	}
	if cfg.Background.StripInterval == 0 {
		cfg.Background.StripInterval = 30 * time.Second
	}
	if cfg.Background.Jitter == 0 {
		cfg.Background.Jitter = time.Second
	}
	if cfg.Background.IterationTimeout == 0 {
		cfg.Background.IterationTimeout = 30 * time.Second
	}
	if cfg.Background.HeartbeatStaleAfter == 0 {
		cfg.Background.HeartbeatStaleAfter = 3 * cfg.Background.HeartbeatInterval
	}

	if cfg.Replication.FanoutWorkers == 0 {
		cfg.Replication.FanoutWorkers = 8
	}
	if cfg.Replication.FanoutQueueSize == 0 {
		cfg.Replication.FanoutQueueSize = 1024
	}

	if cfg.Gossip.BindPort == 0 {
		cfg.Gossip.BindPort = 7946
	}
	if cfg.Gossip.GossipInterval == 0 {
		cfg.Gossip.GossipInterval = 200 * time.Millisecond
	}
	if cfg.Gossip.ProbeTimeout == 0 {
		cfg.Gossip.ProbeTimeout = 500 * time.Millisecond
	}
	if cfg.Gossip.ProbeInterval == 0 {
		cfg.Gossip.ProbeInterval = time.Second
	}

	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.RequestTimeout == 0 {
		cfg.HTTP.RequestTimeout = 10 * time.Second
	}
	if cfg.HTTP.RateLimit > 0 && cfg.HTTP.Burst == 0 {
		cfg.HTTP.Burst = int(cfg.HTTP.RateLimit)
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.NodeID <= 0 {
		return fmt.Errorf("server.node_id must be positive")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if len(c.Cluster.Nodes) == 0 {
		return fmt.Errorf("cluster.nodes is required")
	}
	seen := make(map[int]bool, len(c.Cluster.Nodes))
	for _, n := range c.Cluster.Nodes {
		if n.ID <= 0 {
			return fmt.Errorf("cluster.nodes: id must be positive, got %d", n.ID)
		}
		if seen[n.ID] {
			return fmt.Errorf("cluster.nodes: duplicate id %d", n.ID)
		}
		if n.Address == "" {
			return fmt.Errorf("cluster.nodes: node %d has no address", n.ID)
		}
		seen[n.ID] = true
	}
	if !seen[c.Server.NodeID] {
		return fmt.Errorf("server.node_id %d is not listed in cluster.nodes", c.Server.NodeID)
	}

	switch c.Cluster.Strategy {
	case StrategyAll, StrategyRing:
	default:
		return fmt.Errorf("cluster.strategy must be %q or %q", StrategyAll, StrategyRing)
	}
	if c.Cluster.ReplicationFactor < 1 {
		return fmt.Errorf("cluster.replication_factor must be positive")
	}

	if _, err := algorithm.NewQuorumCalculator().ReadQuorum(c.Consistency.ReadLevel, 1); err != nil {
		return fmt.Errorf("consistency.read_level: %w", err)
	}
	if c.Consistency.LockTimeout < 0 {
		return fmt.Errorf("consistency.lock_timeout cannot be negative")
	}
	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("http.rate_limit cannot be negative")
	}
	if c.Background.Jitter < 0 {
		return fmt.Errorf("background.jitter cannot be negative")
	}
	return nil
}

// NodeID returns the configured id of this node
func (c *Config) NodeID() model.NodeID {
	return model.NodeID(c.Server.NodeID)
}

// NodeIDs returns the ids of every cluster member in configuration order
func (c *Config) NodeIDs() []model.NodeID {
	ids := make([]model.NodeID, 0, len(c.Cluster.Nodes))
	for _, n := range c.Cluster.Nodes {
		ids = append(ids, model.NodeID(n.ID))
	}
	return ids
}

// PeerAddresses maps every other member to its RPC address
func (c *Config) PeerAddresses() map[model.NodeID]string {
	addrs := make(map[model.NodeID]string, len(c.Cluster.Nodes))
	for _, n := range c.Cluster.Nodes {
		if n.ID != c.Server.NodeID {
			addrs[model.NodeID(n.ID)] = n.Address
		}
	}
	return addrs
}

// Strategy builds the replication strategy over the configured members
func (c *Config) Strategy() algorithm.ReplicationStrategy {
	if c.Cluster.Strategy == StrategyRing {
		return algorithm.NewRing(c.NodeIDs(), c.Cluster.ReplicationFactor, c.Cluster.VirtualNodes)
	}
	return algorithm.NewAllNodes(c.NodeIDs())
}
