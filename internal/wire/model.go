package wire

import (
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/devrev/ndckv/internal/model"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the embedded messages.
//
//	DotValue    { 1 node, 2 update_id, 3 value, 4 fifo_distance packed }
//	CausalEntry { 1 node, 2 update_id }
//	Object      { 1 repeated DotValue, 2 repeated CausalEntry }
//	ClockEntry  { 1 node, 2 base, 3 bitmap packed }
//	KeyedObject { 1 key, 2 Object }
//	Segment     { 1 node, 2 first, 3 last, 4 repeated KeyedObject }
//	StoreSync   { 1 mode, 2 repeated ClockEntry, 3 repeated KeyedObject, 4 repeated Segment }
const (
	fieldNode     protowire.Number = 1
	fieldUpdateID protowire.Number = 2
	fieldValue    protowire.Number = 3
	fieldDistance protowire.Number = 4

	fieldDotValues     protowire.Number = 1
	fieldCausalContext protowire.Number = 2

	fieldBase   protowire.Number = 2
	fieldBitmap protowire.Number = 3

	fieldKey    protowire.Number = 1
	fieldObject protowire.Number = 2

	fieldFirst   protowire.Number = 2
	fieldLast    protowire.Number = 3
	fieldObjects protowire.Number = 4

	fieldMode        protowire.Number = 1
	fieldClock       protowire.Number = 2
	fieldSyncObjects protowire.Number = 3
	fieldSegments    protowire.Number = 4
)

func toNodeID(v uint64) (model.NodeID, error) {
	if v > math.MaxInt32 {
		return 0, fmt.Errorf("node id %d out of range", v)
	}
	return model.NodeID(v), nil
}

func toMode(v uint64) (model.ConsistencyMode, error) {
	m := model.ConsistencyMode(v)
	if v > math.MaxInt32 || !m.Valid() {
		return 0, fmt.Errorf("unknown consistency mode %d", v)
	}
	return m, nil
}

// toRawMode keeps an unknown mode so request validation can reject it with
// a typed error
func toRawMode(v uint64) (model.ConsistencyMode, error) {
	if v > math.MaxInt32 {
		return 0, fmt.Errorf("consistency mode %d out of range", v)
	}
	return model.ConsistencyMode(v), nil
}

func appendCausalContext(b []byte, num protowire.Number, cc model.CausalContext) []byte {
	for _, n := range slices.Sorted(maps.Keys(cc)) {
		id := cc[n]
		b = appendMessage(b, num, func(b []byte) []byte {
			b = appendVarint(b, fieldNode, uint64(n))
			return appendVarint(b, fieldUpdateID, id)
		})
	}
	return b
}

func decodeCausalEntry(data []byte, cc model.CausalContext) error {
	var node, id uint64
	err := parseFields(data, func(f field) error {
		switch f.num {
		case fieldNode:
			node = f.v
		case fieldUpdateID:
			id = f.v
		}
		return nil
	})
	if err != nil {
		return err
	}
	n, err := toNodeID(node)
	if err != nil {
		return err
	}
	if id > cc[n] {
		cc[n] = id
	}
	return nil
}

func appendObject(b []byte, o model.Object) []byte {
	for _, d := range o.Dots() {
		dv := o.DotValues[d]
		b = appendMessage(b, fieldDotValues, func(b []byte) []byte {
			b = appendVarint(b, fieldNode, uint64(d.NodeID))
			b = appendVarint(b, fieldUpdateID, d.UpdateID)
			b = appendString(b, fieldValue, string(dv.Value))
			return appendPacked(b, fieldDistance, dv.FifoDistance[:])
		})
	}
	return appendCausalContext(b, fieldCausalContext, o.CausalContext)
}

func decodeObject(data []byte) (model.Object, error) {
	o := model.EmptyObject()
	err := parseFields(data, func(f field) error {
		if err := f.expect(protowire.BytesType); err != nil {
			return err
		}
		switch f.num {
		case fieldDotValues:
			d, dv, err := decodeDotValue(f.data)
			if err != nil {
				return err
			}
			o.DotValues[d] = dv
		case fieldCausalContext:
			return decodeCausalEntry(f.data, o.CausalContext)
		}
		return nil
	})
	return o, err
}

func decodeDotValue(data []byte) (model.Dot, model.DotValue, error) {
	var (
		node uint64
		d    model.Dot
		dv   model.DotValue
	)
	err := parseFields(data, func(f field) error {
		switch f.num {
		case fieldNode:
			node = f.v
		case fieldUpdateID:
			d.UpdateID = f.v
		case fieldValue:
			dv.Value = model.Value(f.data)
		case fieldDistance:
			dist, err := f.packed()
			if err != nil {
				return err
			}
			if len(dist) > model.PriorityLevels {
				return fmt.Errorf("fifo distance has %d tiers", len(dist))
			}
			copy(dv.FifoDistance[:], dist)
		}
		return nil
	})
	if err != nil {
		return d, dv, err
	}
	if d.UpdateID == 0 {
		return d, dv, fmt.Errorf("dot without update id")
	}
	d.NodeID, err = toNodeID(node)
	return d, dv, err
}

func appendClock(b []byte, num protowire.Number, clock model.NodeClock) []byte {
	for _, n := range clock.Nodes() {
		entry := clock.Get(n)
		if entry == nil {
			continue
		}
		b = appendMessage(b, num, func(b []byte) []byte {
			b = appendVarint(b, fieldNode, uint64(n))
			b = appendVarint(b, fieldBase, entry.Base)
			return appendPacked(b, fieldBitmap, entry.Bitmap)
		})
	}
	return b
}

func decodeClockEntry(data []byte, clock model.NodeClock) error {
	var node, base uint64
	var bitmap []uint64
	err := parseFields(data, func(f field) error {
		switch f.num {
		case fieldNode:
			node = f.v
		case fieldBase:
			base = f.v
		case fieldBitmap:
			ids, err := f.packed()
			if err != nil {
				return err
			}
			bitmap = append(bitmap, ids...)
		}
		return nil
	})
	if err != nil {
		return err
	}
	n, err := toNodeID(node)
	if err != nil {
		return err
	}
	clock[n] = model.NewUpdateIDSet(base, bitmap...)
	return nil
}

func appendKeyedObject(b []byte, num protowire.Number, k model.Key, o model.Object) []byte {
	return appendMessage(b, num, func(b []byte) []byte {
		b = appendString(b, fieldKey, string(k))
		return appendMessage(b, fieldObject, func(b []byte) []byte { return appendObject(b, o) })
	})
}

func decodeKeyedObject(data []byte) (model.KeyedObject, error) {
	ko := model.KeyedObject{Object: model.EmptyObject()}
	err := parseFields(data, func(f field) error {
		switch f.num {
		case fieldKey:
			ko.Key = model.Key(f.data)
		case fieldObject:
			o, err := decodeObject(f.data)
			if err != nil {
				return err
			}
			ko.Object = o
		}
		return nil
	})
	return ko, err
}

func appendSegment(b []byte, num protowire.Number, seg model.Segment) []byte {
	return appendMessage(b, num, func(b []byte) []byte {
		b = appendVarint(b, fieldNode, uint64(seg.NodeID))
		b = appendVarint(b, fieldFirst, seg.Range.First)
		b = appendVarint(b, fieldLast, seg.Range.Last)
		for _, k := range slices.Sorted(maps.Keys(seg.Objects)) {
			b = appendKeyedObject(b, fieldObjects, k, seg.Objects[k])
		}
		return b
	})
}

func decodeSegment(data []byte) (model.Segment, error) {
	var node, first, last uint64
	seg := model.Segment{Objects: make(map[model.Key]model.Object)}
	err := parseFields(data, func(f field) error {
		switch f.num {
		case fieldNode:
			node = f.v
		case fieldFirst:
			first = f.v
		case fieldLast:
			last = f.v
		case fieldObjects:
			ko, err := decodeKeyedObject(f.data)
			if err != nil {
				return err
			}
			seg.Objects[ko.Key] = ko.Object
		}
		return nil
	})
	if err != nil {
		return seg, err
	}
	if first == 0 || last < first {
		return seg, fmt.Errorf("invalid segment range [%d, %d]", first, last)
	}
	if seg.NodeID, err = toNodeID(node); err != nil {
		return seg, err
	}
	seg.Range = model.NewUpdateIDRange(first, last)
	return seg, nil
}

func appendStoreSync(b []byte, num protowire.Number, mode model.ConsistencyMode, s *model.StoreSync) []byte {
	return appendMessage(b, num, func(b []byte) []byte {
		b = appendVarint(b, fieldMode, uint64(mode))
		b = appendClock(b, fieldClock, s.PeerClock)
		for _, ko := range s.Objects {
			b = appendKeyedObject(b, fieldSyncObjects, ko.Key, ko.Object)
		}
		for _, seg := range s.Segments {
			b = appendSegment(b, fieldSegments, seg)
		}
		return b
	})
}

func decodeStoreSync(data []byte) (model.ConsistencyMode, *model.StoreSync, error) {
	var mode uint64
	s := &model.StoreSync{PeerClock: make(model.NodeClock)}
	err := parseFields(data, func(f field) error {
		switch f.num {
		case fieldMode:
			mode = f.v
		case fieldClock:
			return decodeClockEntry(f.data, s.PeerClock)
		case fieldSyncObjects:
			ko, err := decodeKeyedObject(f.data)
			if err != nil {
				return err
			}
			s.Objects = append(s.Objects, ko)
		case fieldSegments:
			seg, err := decodeSegment(f.data)
			if err != nil {
				return err
			}
			s.Segments = append(s.Segments, seg)
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	m, err := toMode(mode)
	return m, s, err
}
