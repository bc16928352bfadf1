// Package wire encodes node service messages in the protobuf wire format
// and plugs them into gRPC as the "ndcwire" codec. The messages follow the
// schema in proto/ndckv.proto.
package wire

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the content-subtype the codec is registered under
const CodecName = "ndcwire"

// Codec implements encoding.Codec for Message values
type Codec struct{}

var _ encoding.Codec = Codec{}

func init() {
	encoding.RegisterCodec(Codec{})
}

// Marshal encodes a Message
func (Codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(Message)
	if !ok {
		return nil, fmt.Errorf("ndcwire: cannot marshal %T", v)
	}
	return m.MarshalWire(), nil
}

// Unmarshal decodes into a Message
func (Codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(Message)
	if !ok {
		return fmt.Errorf("ndcwire: cannot unmarshal into %T", v)
	}
	if err := m.UnmarshalWire(data); err != nil {
		return fmt.Errorf("ndcwire: %T: %w", v, err)
	}
	return nil
}

// Name implements encoding.Codec
func (Codec) Name() string {
	return CodecName
}
