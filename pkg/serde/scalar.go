// Scalar codecs store primitives directly: integers as (zigzag) varints, floats as fixed-width IEEE 754 bits,
// strings as-is and byte slices behind a one byte presence marker.

package serde

import (
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/nobletooth/kissml/pkg/registry"
	"google.golang.org/protobuf/encoding/protowire"
)

// scalarCodec adapts a pair of typed functions to registry.Codec.
type scalarCodec[T any] struct {
	encode func(T) []byte
	decode func([]byte) (T, error)
}

func (c scalarCodec[T]) Encode(_ *registry.Registry, v any) ([]byte, error) {
	typed, ok := v.(T)
	if !ok {
		return nil, fmt.Errorf("expected %v, got %T", reflect.TypeFor[T](), v)
	}
	return c.encode(typed), nil
}

func (c scalarCodec[T]) Decode(_ *registry.Registry, data []byte) (any, error) {
	return c.decode(data)
}

func scalar[T any](tag string, codec scalarCodec[T]) registry.Registration {
	return registry.Registration{Tag: tag, Type: reflect.TypeFor[T](), Codec: codec}
}

var errTrailingBytes = errors.New("trailing bytes after scalar")

func consumeVarint(data []byte) (uint64, error) {
	value, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	if n != len(data) {
		return 0, errTrailingBytes
	}
	return value, nil
}

func signedCodec[T int | int8 | int16 | int32 | int64]() scalarCodec[T] {
	return scalarCodec[T]{
		encode: func(v T) []byte { return protowire.AppendVarint(nil, protowire.EncodeZigZag(int64(v))) },
		decode: func(data []byte) (T, error) {
			raw, err := consumeVarint(data)
			if err != nil {
				return 0, err
			}
			value := protowire.DecodeZigZag(raw)
			if int64(T(value)) != value {
				return 0, fmt.Errorf("value %d overflows %v", value, reflect.TypeFor[T]())
			}
			return T(value), nil
		},
	}
}

func unsignedCodec[T uint | uint8 | uint16 | uint32 | uint64]() scalarCodec[T] {
	return scalarCodec[T]{
		encode: func(v T) []byte { return protowire.AppendVarint(nil, uint64(v)) },
		decode: func(data []byte) (T, error) {
			value, err := consumeVarint(data)
			if err != nil {
				return 0, err
			}
			if uint64(T(value)) != value {
				return 0, fmt.Errorf("value %d overflows %v", value, reflect.TypeFor[T]())
			}
			return T(value), nil
		},
	}
}

var boolCodec = scalarCodec[bool]{
	encode: func(v bool) []byte { return protowire.AppendVarint(nil, protowire.EncodeBool(v)) },
	decode: func(data []byte) (bool, error) {
		value, err := consumeVarint(data)
		if err != nil {
			return false, err
		}
		if value > 1 {
			return false, fmt.Errorf("invalid bool value %d", value)
		}
		return value == 1, nil
	},
}

var float32Codec = scalarCodec[float32]{
	encode: func(v float32) []byte { return protowire.AppendFixed32(nil, math.Float32bits(v)) },
	decode: func(data []byte) (float32, error) {
		bits, n := protowire.ConsumeFixed32(data)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		if n != len(data) {
			return 0, errTrailingBytes
		}
		return math.Float32frombits(bits), nil
	},
}

var float64Codec = scalarCodec[float64]{
	encode: func(v float64) []byte { return protowire.AppendFixed64(nil, math.Float64bits(v)) },
	decode: func(data []byte) (float64, error) {
		bits, n := protowire.ConsumeFixed64(data)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		if n != len(data) {
			return 0, errTrailingBytes
		}
		return math.Float64frombits(bits), nil
	},
}

var stringCodec = scalarCodec[string]{
	encode: func(v string) []byte { return []byte(v) },
	decode: func(data []byte) (string, error) { return string(data), nil },
}

// bytesPresent prefixes non-nil byte slices; a nil slice is stored as an empty payload.
const bytesPresent byte = 1

var bytesCodec = scalarCodec[[]byte]{
	encode: func(v []byte) []byte {
		if v == nil {
			return []byte{}
		}
		return append([]byte{bytesPresent}, v...)
	},
	decode: func(data []byte) ([]byte, error) {
		if len(data) == 0 {
			return nil, nil
		}
		if data[0] != bytesPresent {
			return nil, fmt.Errorf("unexpected bytes marker %#x", data[0])
		}
		return append([]byte{}, data[1:]...), nil
	},
}

// Scalars returns the registrations of every primitive type.
func Scalars() []registry.Registration {
	return []registry.Registration{
		scalar("bool", boolCodec),
		scalar("int", signedCodec[int]()),
		scalar("int8", signedCodec[int8]()),
		scalar("int16", signedCodec[int16]()),
		scalar("int32", signedCodec[int32]()),
		scalar("int64", signedCodec[int64]()),
		scalar("uint", unsignedCodec[uint]()),
		scalar("uint8", unsignedCodec[uint8]()),
		scalar("uint16", unsignedCodec[uint16]()),
		scalar("uint32", unsignedCodec[uint32]()),
		scalar("uint64", unsignedCodec[uint64]()),
		scalar("float32", float32Codec),
		scalar("float64", float64Codec),
		scalar("string", stringCodec),
		scalar("bytes", bytesCodec),
	}
}
