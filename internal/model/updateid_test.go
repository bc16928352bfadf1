package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateIDSet_Add(t *testing.T) {
	tests := []struct {
		name       string
		adds       []uint64
		wantBase   uint64
		wantBitmap []uint64
	}{
		{name: "contiguous", adds: []uint64{1, 2, 3}, wantBase: 3},
		{name: "gap stays in bitmap", adds: []uint64{1, 3, 5}, wantBase: 1, wantBitmap: []uint64{3, 5}},
		{name: "gap closed later", adds: []uint64{3, 2, 1}, wantBase: 3},
		{name: "duplicates ignored", adds: []uint64{2, 2, 1, 1}, wantBase: 2},
		{name: "partial absorption", adds: []uint64{4, 2, 1, 7}, wantBase: 2, wantBitmap: []uint64{4, 7}},
		{name: "zero ignored", adds: []uint64{0}, wantBase: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &UpdateIDSet{}
			for _, id := range tt.adds {
				s.Add(id)
			}
			assert.Equal(t, tt.wantBase, s.Base)
			assert.Equal(t, tt.wantBitmap, s.Bitmap)
			for _, id := range tt.adds {
				if id > 0 {
					assert.True(t, s.Contains(id), "id %d", id)
				}
			}
			for _, id := range s.Bitmap {
				assert.Greater(t, id, s.Base+1)
			}
		})
	}
}

func TestUpdateIDSet_ContainsMatchesAdds(t *testing.T) {
	s := &UpdateIDSet{}
	added := map[uint64]bool{}
	for _, id := range []uint64{9, 1, 4, 2, 12, 3, 10, 11} {
		s.Add(id)
		added[id] = true
	}

	for id := uint64(1); id <= 15; id++ {
		assert.Equal(t, added[id], s.Contains(id), "id %d", id)
	}
	assert.Equal(t, uint64(4), s.Base)
	assert.Equal(t, uint64(12), s.Max())
}

func TestUpdateIDSet_AddRange(t *testing.T) {
	s := NewUpdateIDSet(2, 8)
	s.AddRange(3, 6)
	assert.Equal(t, uint64(6), s.Base)
	assert.Equal(t, []uint64{8}, s.Bitmap)

	s.AddRange(7, 7)
	assert.Equal(t, uint64(8), s.Base)
	assert.Empty(t, s.Bitmap)

	s.AddRange(11, 12)
	assert.Equal(t, uint64(8), s.Base)
	assert.Equal(t, []uint64{11, 12}, s.Bitmap)
}

func TestUpdateIDSet_UnionWith(t *testing.T) {
	a := NewUpdateIDSet(3, 6, 9)
	b := NewUpdateIDSet(5, 7, 12)

	a.UnionWith(b)

	assert.Equal(t, uint64(7), a.Base)
	assert.Equal(t, []uint64{9, 12}, a.Bitmap)
}

func TestUpdateIDSet_Except(t *testing.T) {
	tests := []struct {
		name  string
		self  *UpdateIDSet
		other *UpdateIDSet
		want  []uint64
	}{
		{name: "nil other", self: NewUpdateIDSet(3), other: nil, want: []uint64{1, 2, 3}},
		{name: "equal", self: NewUpdateIDSet(3, 5), other: NewUpdateIDSet(3, 5), want: nil},
		{name: "self base ahead", self: NewUpdateIDSet(6), other: NewUpdateIDSet(2, 4), want: []uint64{3, 5, 6}},
		{name: "other base ahead", self: NewUpdateIDSet(2, 5, 9), other: NewUpdateIDSet(6), want: []uint64{9}},
		{name: "cross base", self: NewUpdateIDSet(1, 4, 5), other: NewUpdateIDSet(0, 2, 5), want: []uint64{1, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.self.Except(tt.other)
			assert.Equal(t, tt.want, got)
			for _, id := range got {
				assert.True(t, tt.self.Contains(id))
				assert.False(t, tt.other.Contains(id))
			}
		})
	}
}

func TestUpdateIDRange(t *testing.T) {
	r := NewUpdateIDRange(3, 5)

	assert.True(t, r.Contains(3))
	assert.False(t, r.Contains(6))
	assert.True(t, r.Overlaps(NewUpdateIDRange(5, 9)))
	assert.False(t, r.Overlaps(NewUpdateIDRange(6, 9)))
	assert.True(t, r.Adjacent(NewUpdateIDRange(6, 9)))
	assert.True(t, r.Adjacent(NewUpdateIDRange(1, 2)))
	assert.True(t, r.ContainsRange(NewUpdateIDRange(4, 5)))
	assert.Equal(t, NewUpdateIDRange(1, 5), r.Union(NewUpdateIDRange(1, 2)))
	assert.Equal(t, uint64(3), r.Len())

	require.Panics(t, func() { r.Union(NewUpdateIDRange(8, 9)) })
	require.Panics(t, func() { NewUpdateIDRange(5, 4) })
}
