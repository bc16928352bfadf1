package algorithm

import "fmt"

// Read levels accepted by ReadQuorum
const (
	LevelOne    = "one"
	LevelQuorum = "quorum"
	LevelAll    = "all"
)

// QuorumCalculator calculates quorum requirements
type QuorumCalculator struct{}

// NewQuorumCalculator creates a new quorum calculator
func NewQuorumCalculator() *QuorumCalculator {
	return &QuorumCalculator{}
}

// CalculateQuorum returns the majority of totalReplicas
func (q *QuorumCalculator) CalculateQuorum(totalReplicas int) int {
	return (totalReplicas / 2) + 1
}

// ReadQuorum returns how many replica answers a read at level waits for
func (q *QuorumCalculator) ReadQuorum(level string, totalReplicas int) (int, error) {
	switch level {
	case LevelOne:
		return 1, nil
	case LevelAll:
		return totalReplicas, nil
	case LevelQuorum, "":
		return q.CalculateQuorum(totalReplicas), nil
	default:
		return 0, fmt.Errorf("unknown read level %q", level)
	}
}

// IsDegraded reports whether fewer replicas exist than the requested quorum
func (q *QuorumCalculator) IsDegraded(quorum, availableReplicas int) bool {
	return availableReplicas < quorum
}
