package wire

import (
	"fmt"

	"github.com/devrev/ndckv/internal/model"
	"google.golang.org/protobuf/encoding/protowire"
)

// Message is implemented by every request and response of the node service
type Message interface {
	MarshalWire() []byte
	UnmarshalWire(data []byte) error
}

var (
	_ Message = (*Empty)(nil)
	_ Message = (*FetchRequest)(nil)
	_ Message = (*ObjectResponse)(nil)
	_ Message = (*UpdateRequest)(nil)
	_ Message = (*SyncClockRequest)(nil)
	_ Message = (*SyncClockResponse)(nil)
	_ Message = (*GetRequest)(nil)
	_ Message = (*GetResponse)(nil)
	_ Message = (*PutRequest)(nil)
	_ Message = (*DeleteRequest)(nil)
)

// Empty is the response of calls that only acknowledge
type Empty struct{}

func (*Empty) MarshalWire() []byte { return nil }

func (*Empty) UnmarshalWire([]byte) error { return nil }

// FetchRequest asks a replica for its object of Key at Mode
type FetchRequest struct {
	Key  model.Key
	Mode model.ConsistencyMode
}

func (m *FetchRequest) MarshalWire() []byte {
	b := appendString(nil, 1, string(m.Key))
	return appendVarint(b, 2, uint64(m.Mode))
}

func (m *FetchRequest) UnmarshalWire(data []byte) error {
	*m = FetchRequest{}
	return parseFields(data, func(f field) (err error) {
		switch f.num {
		case 1:
			m.Key = model.Key(f.data)
		case 2:
			m.Mode, err = toRawMode(f.v)
		}
		return err
	})
}

// ObjectResponse carries one object
type ObjectResponse struct {
	Object model.Object
}

func (m *ObjectResponse) MarshalWire() []byte {
	return appendMessage(nil, 1, func(b []byte) []byte { return appendObject(b, m.Object) })
}

func (m *ObjectResponse) UnmarshalWire(data []byte) error {
	m.Object = model.EmptyObject()
	return parseFields(data, func(f field) (err error) {
		if f.num == 1 {
			m.Object, err = decodeObject(f.data)
		}
		return err
	})
}

// UpdateRequest replicates an object to a peer
type UpdateRequest struct {
	Key    model.Key
	Object model.Object
}

func (m *UpdateRequest) MarshalWire() []byte {
	b := appendString(nil, 1, string(m.Key))
	return appendMessage(b, 2, func(b []byte) []byte { return appendObject(b, m.Object) })
}

func (m *UpdateRequest) UnmarshalWire(data []byte) error {
	*m = UpdateRequest{Object: model.EmptyObject()}
	return parseFields(data, func(f field) (err error) {
		switch f.num {
		case 1:
			m.Key = model.Key(f.data)
		case 2:
			m.Object, err = decodeObject(f.data)
		}
		return err
	})
}

// SyncClockRequest carries the requester's clock for every mode
//
//	{ 1 from, 2 repeated { 1 mode, 2 repeated ClockEntry } }
type SyncClockRequest struct {
	Request model.SyncRequest
}

func (m *SyncClockRequest) MarshalWire() []byte {
	b := appendVarint(nil, 1, uint64(m.Request.From))
	for _, mode := range model.AllModes {
		clock, ok := m.Request.Clocks[mode]
		if !ok {
			continue
		}
		b = appendMessage(b, 2, func(b []byte) []byte {
			b = appendVarint(b, 1, uint64(mode))
			return appendClock(b, 2, clock)
		})
	}
	return b
}

func (m *SyncClockRequest) UnmarshalWire(data []byte) error {
	m.Request = model.SyncRequest{Clocks: make(map[model.ConsistencyMode]model.NodeClock)}
	return parseFields(data, func(f field) (err error) {
		switch f.num {
		case 1:
			m.Request.From, err = toNodeID(f.v)
		case 2:
			err = m.decodeModeClock(f.data)
		}
		return err
	})
}

func (m *SyncClockRequest) decodeModeClock(data []byte) error {
	var mode uint64
	clock := make(model.NodeClock)
	err := parseFields(data, func(f field) error {
		switch f.num {
		case 1:
			mode = f.v
		case 2:
			return decodeClockEntry(f.data, clock)
		}
		return nil
	})
	if err != nil {
		return err
	}
	mm, err := toMode(mode)
	if err != nil {
		return err
	}
	m.Request.Clocks[mm] = clock
	return nil
}

// SyncClockResponse carries one StoreSync per mode
//
//	{ 1 from, 2 repeated StoreSync }
type SyncClockResponse struct {
	Response model.SyncResponse
}

func (m *SyncClockResponse) MarshalWire() []byte {
	b := appendVarint(nil, 1, uint64(m.Response.From))
	for _, mode := range model.AllModes {
		if s, ok := m.Response.Stores[mode]; ok && s != nil {
			b = appendStoreSync(b, 2, mode, s)
		}
	}
	return b
}

func (m *SyncClockResponse) UnmarshalWire(data []byte) error {
	m.Response = model.SyncResponse{Stores: make(map[model.ConsistencyMode]*model.StoreSync)}
	return parseFields(data, func(f field) (err error) {
		switch f.num {
		case 1:
			m.Response.From, err = toNodeID(f.v)
		case 2:
			mode, s, derr := decodeStoreSync(f.data)
			if derr != nil {
				return derr
			}
			if _, dup := m.Response.Stores[mode]; dup {
				return fmt.Errorf("duplicate store sync for %s", mode)
			}
			m.Response.Stores[mode] = s
		}
		return err
	})
}

// GetRequest is a client read
type GetRequest struct {
	Key    model.Key
	Quorum int
	Mode   model.ConsistencyMode
}

func (m *GetRequest) MarshalWire() []byte {
	b := appendString(nil, 1, string(m.Key))
	b = appendVarint(b, 2, protowire.EncodeZigZag(int64(m.Quorum)))
	return appendVarint(b, 3, uint64(m.Mode))
}

func (m *GetRequest) UnmarshalWire(data []byte) error {
	*m = GetRequest{}
	return parseFields(data, func(f field) (err error) {
		switch f.num {
		case 1:
			m.Key = model.Key(f.data)
		case 2:
			m.Quorum = int(protowire.DecodeZigZag(f.v))
		case 3:
			m.Mode, err = toRawMode(f.v)
		}
		return err
	})
}

// GetResponse returns the live values and the context for the next write
type GetResponse struct {
	Values        []model.Value
	CausalContext model.CausalContext
}

func (m *GetResponse) MarshalWire() []byte {
	var b []byte
	for _, v := range m.Values {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, string(v))
	}
	return appendCausalContext(b, 2, m.CausalContext)
}

func (m *GetResponse) UnmarshalWire(data []byte) error {
	*m = GetResponse{CausalContext: model.CausalContext{}}
	return parseFields(data, func(f field) error {
		switch f.num {
		case 1:
			m.Values = append(m.Values, model.Value(f.data))
		case 2:
			return decodeCausalEntry(f.data, m.CausalContext)
		}
		return nil
	})
}

// PutRequest is a client write
type PutRequest struct {
	Key           model.Key
	Value         model.Value
	CausalContext model.CausalContext
}

func (m *PutRequest) MarshalWire() []byte {
	b := appendString(nil, 1, string(m.Key))
	b = appendString(b, 2, string(m.Value))
	return appendCausalContext(b, 3, m.CausalContext)
}

func (m *PutRequest) UnmarshalWire(data []byte) error {
	*m = PutRequest{CausalContext: model.CausalContext{}}
	return parseFields(data, func(f field) error {
		switch f.num {
		case 1:
			m.Key = model.Key(f.data)
		case 2:
			m.Value = model.Value(f.data)
		case 3:
			return decodeCausalEntry(f.data, m.CausalContext)
		}
		return nil
	})
}

// DeleteRequest is a client delete
type DeleteRequest struct {
	Key           model.Key
	CausalContext model.CausalContext
}

func (m *DeleteRequest) MarshalWire() []byte {
	b := appendString(nil, 1, string(m.Key))
	return appendCausalContext(b, 2, m.CausalContext)
}

func (m *DeleteRequest) UnmarshalWire(data []byte) error {
	*m = DeleteRequest{CausalContext: model.CausalContext{}}
	return parseFields(data, func(f field) error {
		switch f.num {
		case 1:
			m.Key = model.Key(f.data)
		case 2:
			return decodeCausalEntry(f.data, m.CausalContext)
		}
		return nil
	})
}
