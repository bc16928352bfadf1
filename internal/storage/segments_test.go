package storage

import (
	"testing"

	"github.com/devrev/ndckv/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func concat(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	return append(append(out, a...), b...)
}

func ranges[T any](set *SegmentSet[T]) []model.UpdateIDRange {
	var out []model.UpdateIDRange
	for _, seg := range set.All() {
		out = append(out, seg.Range)
	}
	return out
}

func TestSegmentSet_InsertDisjointKeepsOrder(t *testing.T) {
	set := NewSegmentSet(concat)
	set.Insert(model.NewUpdateIDRange(8, 9), []string{"c"})
	set.Insert(model.NewUpdateIDRange(1, 2), []string{"a"})
	set.Insert(model.NewUpdateIDRange(5, 6), []string{"b"})

	assert.Equal(t, []model.UpdateIDRange{
		model.NewUpdateIDRange(1, 2),
		model.NewUpdateIDRange(5, 6),
		model.NewUpdateIDRange(8, 9),
	}, ranges(set))
}

func TestSegmentSet_InsertMergesAdjacent(t *testing.T) {
	set := NewSegmentSet(concat)
	set.Insert(model.NewUpdateIDRange(1, 2), []string{"a"})
	set.Insert(model.NewUpdateIDRange(3, 4), []string{"b"})

	require.Equal(t, 1, set.Len())
	first, ok := set.First()
	require.True(t, ok)
	assert.Equal(t, model.NewUpdateIDRange(1, 4), first.Range)
	assert.ElementsMatch(t, []string{"a", "b"}, first.Payload)
}

func TestSegmentSet_InsertBridgesSeveral(t *testing.T) {
	set := NewSegmentSet(concat)
	set.Insert(model.NewUpdateIDRange(1, 2), []string{"a"})
	set.Insert(model.NewUpdateIDRange(5, 6), []string{"b"})
	set.Insert(model.NewUpdateIDRange(8, 9), []string{"c"})
	set.Insert(model.NewUpdateIDRange(12, 12), []string{"d"})

	set.Insert(model.NewUpdateIDRange(3, 7), []string{"x"})

	assert.Equal(t, []model.UpdateIDRange{
		model.NewUpdateIDRange(1, 9),
		model.NewUpdateIDRange(12, 12),
	}, ranges(set))
	first, _ := set.First()
	assert.ElementsMatch(t, []string{"a", "b", "c", "x"}, first.Payload)
}

func TestSegmentSet_InsertOverlapping(t *testing.T) {
	set := NewSegmentSet(concat)
	set.Insert(model.NewUpdateIDRange(4, 6), []string{"a"})
	set.Insert(model.NewUpdateIDRange(5, 5), []string{"b"})

	assert.Equal(t, []model.UpdateIDRange{model.NewUpdateIDRange(4, 6)}, ranges(set))
}

func TestSegmentSet_PopFirst(t *testing.T) {
	set := NewSegmentSet(concat)
	_, ok := set.PopFirst()
	assert.False(t, ok)

	set.Insert(model.NewUpdateIDRange(7, 7), []string{"b"})
	set.Insert(model.NewUpdateIDRange(3, 4), []string{"a"})

	seg, ok := set.PopFirst()
	require.True(t, ok)
	assert.Equal(t, model.NewUpdateIDRange(3, 4), seg.Range)
	assert.Equal(t, 1, set.Len())
}

func TestSegmentSet_RequiresMerge(t *testing.T) {
	assert.Panics(t, func() { NewSegmentSet[int](nil) })
}
