package codec

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// OpaqueCodec serializes metadata values that have no dedicated encoding.
//
// This is the trust boundary of the format: Unmarshal materializes values
// from bytes the cache did not structurally validate. Implementations should
// only build values of types they know, and version their own payloads.
type OpaqueCodec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte) (any, error)
}

// protoOpaqueVersion prefixes every payload written by ProtoOpaqueCodec.
const protoOpaqueVersion byte = 1

// ProtoOpaqueCodec carries opaque values as a deterministic anypb.Any.
//
// proto.Message values are stored as-is and restored through the codec's type
// registry, so an unknown message type fails with ErrUnsupportedPayload.
// Go scalars travel in wrapperspb messages and come back as the same Go type,
// except int and uint which come back as int64 and uint64.
type ProtoOpaqueCodec struct {
	types *protoregistry.Types
}

// NewProtoOpaqueCodec creates a codec that resolves message types from the
// global protobuf registry.
func NewProtoOpaqueCodec() *ProtoOpaqueCodec {
	return &ProtoOpaqueCodec{types: protoregistry.GlobalTypes}
}

// NewProtoOpaqueCodecWithTypes creates a codec restricted to the given registry.
func NewProtoOpaqueCodecWithTypes(types *protoregistry.Types) *ProtoOpaqueCodec {
	return &ProtoOpaqueCodec{types: types}
}

// Marshal implements OpaqueCodec.
func (c *ProtoOpaqueCodec) Marshal(v any) ([]byte, error) {
	msg, err := toMessage(v)
	if err != nil {
		return nil, err
	}
	a := &anypb.Any{}
	if err := anypb.MarshalFrom(a, msg, proto.MarshalOptions{Deterministic: true}); err != nil {
		return nil, fmt.Errorf("wrap %T: %w", v, err)
	}
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", v, err)
	}
	return append([]byte{protoOpaqueVersion}, data...), nil
}

// Unmarshal implements OpaqueCodec.
func (c *ProtoOpaqueCodec) Unmarshal(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrUnsupportedPayload)
	}
	if data[0] != protoOpaqueVersion {
		return nil, fmt.Errorf("%w: payload version %d", ErrUnsupportedPayload, data[0])
	}

	a := &anypb.Any{}
	if err := proto.Unmarshal(data[1:], a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedPayload, err)
	}
	msg, err := anypb.UnmarshalNew(a, proto.UnmarshalOptions{Resolver: c.types})
	if err != nil {
		if errors.Is(err, protoregistry.NotFound) {
			return nil, fmt.Errorf("%w: type %s is not available", ErrUnsupportedPayload, a.GetTypeUrl())
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedPayload, a.GetTypeUrl(), err)
	}
	return fromMessage(msg), nil
}

func toMessage(v any) (proto.Message, error) {
	switch v := v.(type) {
	case proto.Message:
		return v, nil
	case bool:
		return wrapperspb.Bool(v), nil
	case int:
		return wrapperspb.Int64(int64(v)), nil
	case int32:
		return wrapperspb.Int32(v), nil
	case int64:
		return wrapperspb.Int64(v), nil
	case uint:
		return wrapperspb.UInt64(uint64(v)), nil
	case uint32:
		return wrapperspb.UInt32(v), nil
	case uint64:
		return wrapperspb.UInt64(v), nil
	case float32:
		return wrapperspb.Float(v), nil
	case float64:
		return wrapperspb.Double(v), nil
	case []byte:
		return wrapperspb.Bytes(v), nil
	default:
		return nil, fmt.Errorf("no protobuf mapping for %T", v)
	}
}

func fromMessage(msg proto.Message) any {
	switch m := msg.(type) {
	case *wrapperspb.BoolValue:
		return m.GetValue()
	case *wrapperspb.Int32Value:
		return m.GetValue()
	case *wrapperspb.Int64Value:
		return m.GetValue()
	case *wrapperspb.UInt32Value:
		return m.GetValue()
	case *wrapperspb.UInt64Value:
		return m.GetValue()
	case *wrapperspb.FloatValue:
		return m.GetValue()
	case *wrapperspb.DoubleValue:
		return m.GetValue()
	case *wrapperspb.BytesValue:
		return m.GetValue()
	default:
		return msg
	}
}
