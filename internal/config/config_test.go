package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/devrev/ndckv/internal/algorithm"
	"github.com/devrev/ndckv/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const clusterYAML = `
server:
  node_id: 2
  port: 50060
cluster:
  strategy: ring
  replication_factor: 2
  nodes:
    - {id: 1, address: "10.0.0.1:50060"}
    - {id: 2, address: "10.0.0.2:50060"}
    - {id: 3, address: "10.0.0.3:50060"}
consistency:
  read_level: one
background:
  heartbeat_interval: 2s
`

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("NODE_ID", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(clusterYAML), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, model.NodeID(2), cfg.NodeID())
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 15*time.Second, cfg.Consistency.LockTimeout)
	assert.Equal(t, uint64(1000), cfg.Consistency.FifoBufferLimit)
	assert.Equal(t, 6*time.Second, cfg.Background.HeartbeatStaleAfter)
	assert.Equal(t, algorithm.LevelOne, cfg.Consistency.ReadLevel)

	assert.Equal(t, []model.NodeID{1, 2, 3}, cfg.NodeIDs())
	assert.Equal(t, map[model.NodeID]string{1: "10.0.0.1:50060", 3: "10.0.0.3:50060"}, cfg.PeerAddresses())

	ring, ok := cfg.Strategy().(*algorithm.Ring)
	require.True(t, ok)
	assert.Equal(t, 2, ring.ReplicationFactor())
}

func TestParse_NodeIDFromEnv(t *testing.T) {
	t.Setenv("NODE_ID", "3")

	cfg, err := Parse([]byte(clusterYAML))
	require.NoError(t, err)
	assert.Equal(t, model.NodeID(3), cfg.NodeID())
}

func TestParse_Invalid(t *testing.T) {
	t.Setenv("NODE_ID", "")

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing node id",
			yaml: "cluster: {nodes: [{id: 1, address: a}]}",
			want: "server.node_id",
		},
		{
			name: "node not a member",
			yaml: "server: {node_id: 4}\ncluster: {nodes: [{id: 1, address: a}]}",
			want: "not listed",
		},
		{
			name: "duplicate member",
			yaml: "server: {node_id: 1}\ncluster: {nodes: [{id: 1, address: a}, {id: 1, address: b}]}",
			want: "duplicate",
		},
		{
			name: "unknown strategy",
			yaml: "server: {node_id: 1}\ncluster: {strategy: mesh, nodes: [{id: 1, address: a}]}",
			want: "cluster.strategy",
		},
		{
			name: "unknown read level",
			yaml: "server: {node_id: 1}\ncluster: {nodes: [{id: 1, address: a}]}\nconsistency: {read_level: most}",
			want: "read_level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
