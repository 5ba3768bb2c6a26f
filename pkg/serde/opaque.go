// User types are never serialized implicitly. They opt in by registering one of the codecs below under a tag of
// their choosing; a value of an unregistered type fails with registry.ErrSerialization.

package serde

import (
	"bytes"
	"encoding"
	"fmt"
	"reflect"

	"github.com/nobletooth/kissml/pkg/registry"
	"github.com/vmihailenco/msgpack/v5"
)

type opaqueCodec[T any] struct{}

func (opaqueCodec[T]) Encode(_ *registry.Registry, v any) ([]byte, error) {
	typed, ok := v.(T)
	if !ok {
		return nil, fmt.Errorf("expected %v, got %T", reflect.TypeFor[T](), v)
	}
	var buffer bytes.Buffer
	encoder := msgpack.NewEncoder(&buffer)
	encoder.SetSortMapKeys(true)
	if err := encoder.Encode(typed); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func (opaqueCodec[T]) Decode(_ *registry.Registry, data []byte) (any, error) {
	var value T
	if err := msgpack.Unmarshal(data, &value); err != nil {
		return nil, err
	}
	return value, nil
}

// Opaque registers T under `tag` with a msgpack codec. Exported fields round-trip; the stored form follows T's
// definition, so entries written before an incompatible change to T fail to decode.
func Opaque[T any](tag string) registry.Registration {
	return registry.Registration{Tag: tag, Type: reflect.TypeFor[T](), Codec: opaqueCodec[T]{}}
}

type binaryCodec[T encoding.BinaryMarshaler, PT interface {
	*T
	encoding.BinaryUnmarshaler
}] struct{}

func (binaryCodec[T, PT]) Encode(_ *registry.Registry, v any) ([]byte, error) {
	typed, ok := v.(T)
	if !ok {
		return nil, fmt.Errorf("expected %v, got %T", reflect.TypeFor[T](), v)
	}
	return typed.MarshalBinary()
}

func (binaryCodec[T, PT]) Decode(_ *registry.Registry, data []byte) (any, error) {
	var value T
	if err := PT(&value).UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return value, nil
}

// Binary registers T under `tag` using its own MarshalBinary / UnmarshalBinary methods.
// Whatever MarshalBinary leaves out, such as the monotonic reading of a time.Time, doesn't survive.
func Binary[T encoding.BinaryMarshaler, PT interface {
	*T
	encoding.BinaryUnmarshaler
}](tag string) registry.Registration {
	return registry.Registration{Tag: tag, Type: reflect.TypeFor[T](), Codec: binaryCodec[T, PT]{}}
}
