package service

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/devrev/ndckv/internal/metrics"
	"github.com/devrev/ndckv/internal/model"
	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"
)

const memberPrefix = "ndckv-"

// GossipService tracks which nodes of the cluster are reachable. It only
// informs peer selection; replication never depends on it.
type GossipService struct {
	config     *GossipConfig
	memberlist *memberlist.Memberlist
	self       model.NodeID
	meta       memberMeta
	metrics    *metrics.Metrics
	logger     *zap.Logger

	mu      sync.RWMutex
	members map[model.NodeID]Member
}

// GossipConfig holds gossip protocol configuration
type GossipConfig struct {
	Enabled        bool
	BindAddr       string
	BindPort       int
	SeedNodes      []string
	GossipInterval time.Duration
	ProbeTimeout   time.Duration
	ProbeInterval  time.Duration
}

// Member is the last known state of one cluster member
type Member struct {
	NodeID     model.NodeID `json:"node_id"`
	RPCAddress string       `json:"rpc_address"`
	GossipAddr string       `json:"gossip_addr"`
	Alive      bool         `json:"alive"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

type memberMeta struct {
	NodeID     model.NodeID `json:"node_id"`
	RPCAddress string       `json:"rpc_address"`
}

// NewGossipService joins the cluster's gossip ring
func NewGossipService(cfg *GossipConfig, self model.NodeID, rpcAddress string, m *metrics.Metrics, logger *zap.Logger) (*GossipService, error) {
	gs := newGossipState(cfg, self, rpcAddress, m, logger)

	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = memberName(self)
	if cfg.BindAddr != "" {
		mlConfig.BindAddr = cfg.BindAddr
	}
	mlConfig.BindPort = cfg.BindPort
	mlConfig.AdvertisePort = cfg.BindPort
	if cfg.GossipInterval > 0 {
		mlConfig.GossipInterval = cfg.GossipInterval
	}
	if cfg.ProbeTimeout > 0 {
		mlConfig.ProbeTimeout = cfg.ProbeTimeout
	}
	if cfg.ProbeInterval > 0 {
		mlConfig.ProbeInterval = cfg.ProbeInterval
	}
	mlConfig.Delegate = gs
	mlConfig.Events = &GossipEventDelegate{service: gs}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}
	gs.memberlist = ml

	if len(cfg.SeedNodes) > 0 {
		joined, err := ml.Join(cfg.SeedNodes)
		if err != nil {
			logger.Warn("Failed to join some seed nodes", zap.Error(err))
		}
		logger.Info("Joined gossip cluster", zap.Int("contacted", joined))
	}

	return gs, nil
}

func newGossipState(cfg *GossipConfig, self model.NodeID, rpcAddress string, m *metrics.Metrics, logger *zap.Logger) *GossipService {
	return &GossipService{
		config:  cfg,
		self:    self,
		meta:    memberMeta{NodeID: self, RPCAddress: rpcAddress},
		metrics: m,
		logger:  logger.With(zap.String("component", "gossip")),
		members: make(map[model.NodeID]Member),
	}
}

func memberName(id model.NodeID) string {
	return memberPrefix + id.String()
}

func parseMemberName(name string) (model.NodeID, bool) {
	rest, ok := strings.CutPrefix(name, memberPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(rest)
	if err != nil || id < 0 {
		return 0, false
	}
	return model.NodeID(id), true
}

// IsAlive reports gossip's view of id. known is false until gossip has
// heard of the node.
func (s *GossipService) IsAlive(id model.NodeID) (bool, bool) {
	if id == s.self {
		return true, true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	return m.Alive, ok
}

// Members returns the known members ordered by node id
func (s *GossipService) Members() []Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Member, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b Member) int { return int(a.NodeID) - int(b.NodeID) })
	return out
}

func (s *GossipService) observe(node *memberlist.Node, alive bool) {
	id, ok := parseMemberName(node.Name)
	if !ok {
		s.logger.Warn("Ignoring gossip member with foreign name", zap.String("name", node.Name))
		return
	}
	if id == s.self {
		return
	}

	m := Member{NodeID: id, Alive: alive, UpdatedAt: time.Now()}
	if node.Addr != nil {
		m.GossipAddr = fmt.Sprintf("%s:%d", node.Addr, node.Port)
	}
	var meta memberMeta
	if len(node.Meta) > 0 {
		if err := json.Unmarshal(node.Meta, &meta); err != nil {
			s.logger.Warn("Failed to unmarshal member meta", zap.Int("peer", int(id)), zap.Error(err))
		} else {
			m.RPCAddress = meta.RPCAddress
		}
	}

	s.mu.Lock()
	if prev, ok := s.members[id]; ok && m.RPCAddress == "" {
		m.RPCAddress = prev.RPCAddress
	}
	s.members[id] = m
	total, healthy := len(s.members), 0
	for _, member := range s.members {
		if member.Alive {
			healthy++
		}
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.UpdateGossipStats(total, healthy)
	}
}

// NodeMeta implements memberlist.Delegate
func (s *GossipService) NodeMeta(limit int) []byte {
	data, _ := json.Marshal(s.meta)
	if len(data) > limit {
		return nil
	}
	return data
}

// NotifyMsg implements memberlist.Delegate
func (s *GossipService) NotifyMsg([]byte) {}

// GetBroadcasts implements memberlist.Delegate
func (s *GossipService) GetBroadcasts(overhead, limit int) [][]byte {
	return nil
}

// LocalState implements memberlist.Delegate
func (s *GossipService) LocalState(join bool) []byte {
	return nil
}

// MergeRemoteState implements memberlist.Delegate
func (s *GossipService) MergeRemoteState(buf []byte, join bool) {}

// Shutdown leaves the gossip ring
func (s *GossipService) Shutdown(timeout time.Duration) error {
	if s.memberlist == nil {
		return nil
	}
	if err := s.memberlist.Leave(timeout); err != nil {
		s.logger.Warn("Failed to leave gossip cluster", zap.Error(err))
	}
	return s.memberlist.Shutdown()
}

// GossipEventDelegate handles memberlist events
type GossipEventDelegate struct {
	service *GossipService
}

// NotifyJoin is called when a node joins
func (d *GossipEventDelegate) NotifyJoin(node *memberlist.Node) {
	d.service.logger.Info("Node joined",
		zap.String("name", node.Name),
		zap.Stringer("addr", node.Addr))
	d.service.observe(node, true)
}

// NotifyLeave is called when a node leaves or is declared dead
func (d *GossipEventDelegate) NotifyLeave(node *memberlist.Node) {
	d.service.logger.Info("Node left", zap.String("name", node.Name))
	d.service.observe(node, false)
}

// NotifyUpdate is called when a node's metadata changes
func (d *GossipEventDelegate) NotifyUpdate(node *memberlist.Node) {
	d.service.logger.Debug("Node updated", zap.String("name", node.Name))
	d.service.observe(node, node.State == memberlist.StateAlive)
}
