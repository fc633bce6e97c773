package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// WireMessage is implemented by types that hand-encode themselves in the
// protobuf wire format without generated descriptors.
type WireMessage interface {
	AppendProto(b []byte) []byte
	ConsumeProto(b []byte) error
}

type protoCodec struct {
	mo proto.MarshalOptions
	uo proto.UnmarshalOptions
}

// Proto returns a Protocol Buffers codec with deterministic marshaling.
// It accepts generated proto.Message values as well as WireMessage types.
func Proto() Codec {
	return protoCodec{
		mo: proto.MarshalOptions{Deterministic: true},
		uo: proto.UnmarshalOptions{},
	}
}

func (p protoCodec) ContentType() string { return ContentProto }

func (p protoCodec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case proto.Message:
		return p.mo.Marshal(m)
	case WireMessage:
		return m.AppendProto(nil), nil
	}
	return nil, fmt.Errorf("protobuf: value is not a proto message: %T", v)
}

func (p protoCodec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case proto.Message:
		return p.uo.Unmarshal(data, m)
	case WireMessage:
		return m.ConsumeProto(data)
	}
	return fmt.Errorf("protobuf: target is not a proto message: %T", v)
}
