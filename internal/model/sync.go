package model

// KeyedObject pairs an object with the key it belongs to
type KeyedObject struct {
	Key    Key
	Object Object
}

// Segment is a contiguous range of buffered, not yet visible update ids from
// one origin together with the per-key objects waiting on it
type Segment struct {
	NodeID  NodeID
	Range   UpdateIDRange
	Objects map[Key]Object
}

// StoreSync is one store's answer to a sync probe: the responder's clock,
// every object the requester is missing and, for FIFO stores, the buffered
// segments the requester has not yet passed.
type StoreSync struct {
	PeerClock NodeClock
	Objects   []KeyedObject
	Segments  []Segment
}

// SyncRequest carries the requester's clock for every consistency mode
type SyncRequest struct {
	From   NodeID
	Clocks map[ConsistencyMode]NodeClock
}

// SyncResponse carries one StoreSync per consistency mode
type SyncResponse struct {
	From   NodeID
	Stores map[ConsistencyMode]*StoreSync
}
