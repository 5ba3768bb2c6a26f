// Composite codecs write a manifest of per-element type tags first, followed by every element as a length-prefixed
// block encoded with its own codec. Elements can be of mixed types and composites nest arbitrarily.
//
//	[u32 manifest_len][manifest][u32 len][element]...
//
// The manifest is a protobuf message with a single repeated string field (number 1). All lengths are big endian.
// A nil container is stored as an empty payload, which no empty container produces since it still carries its
// manifest length.

package serde

import (
	"encoding/binary"
	"errors"
	"fmt"
	"maps"
	"math"
	"reflect"
	"slices"

	"github.com/nobletooth/kissml/pkg/registry"
	"github.com/nobletooth/kissml/pkg/utils"
	"google.golang.org/protobuf/encoding/protowire"
)

const manifestTagField protowire.Number = 1

var errTruncated = errors.New("truncated composite payload")

// Tuple is a fixed-arity sequence; it round-trips as a Tuple rather than a plain []any.
type Tuple []any

// Mapping is an insertion ordered mapping whose keys may be of any registered type.
type Mapping []utils.Pair[any, any]

// Get returns the value stored for a key deep-equal to `key`.
func (m Mapping) Get(key any) (any, bool) {
	for _, pair := range m {
		if reflect.DeepEqual(pair.Key, key) {
			return pair.Value, true
		}
	}
	return nil, false
}

// Set replaces the value of an existing key in place, or appends a new pair.
func (m *Mapping) Set(key, value any) {
	for i, pair := range *m {
		if reflect.DeepEqual(pair.Key, key) {
			(*m)[i].Value = value
			return
		}
	}
	*m = append(*m, utils.MakePair(key, value))
}

func appendManifest(tags []string) []byte {
	var manifest []byte
	for _, tag := range tags {
		manifest = protowire.AppendTag(manifest, manifestTagField, protowire.BytesType)
		manifest = protowire.AppendString(manifest, tag)
	}
	return manifest
}

func parseManifest(manifest []byte) ([]string, error) {
	var tags []string
	for len(manifest) > 0 {
		number, wireType, n := protowire.ConsumeTag(manifest)
		if n < 0 {
			return nil, fmt.Errorf("bad manifest: %w", protowire.ParseError(n))
		}
		if number != manifestTagField || wireType != protowire.BytesType {
			return nil, fmt.Errorf("bad manifest: unexpected field %d of type %d", number, wireType)
		}
		manifest = manifest[n:]
		tag, n := protowire.ConsumeString(manifest)
		if n < 0 {
			return nil, fmt.Errorf("bad manifest: %w", protowire.ParseError(n))
		}
		tags = append(tags, tag)
		manifest = manifest[n:]
	}
	return tags, nil
}

func appendBlock(out, block []byte) ([]byte, error) {
	if uint64(len(block)) > math.MaxUint32 {
		return nil, fmt.Errorf("block of %d bytes exceeds the 4GiB limit", len(block))
	}
	out = binary.BigEndian.AppendUint32(out, uint32(len(block)))
	return append(out, block...), nil
}

func readBlock(data []byte) (block, rest []byte, err error) {
	if len(data) < 4 {
		return nil, nil, errTruncated
	}
	size := binary.BigEndian.Uint32(data)
	data = data[4:]
	if uint64(len(data)) < uint64(size) {
		return nil, nil, errTruncated
	}
	return data[:size], data[size:], nil
}

// encodeElements writes the manifest and element blocks of `values`.
func encodeElements(r *registry.Registry, values []any) ([]byte, error) {
	tags := make([]string, len(values))
	payloads := make([][]byte, len(values))
	for i, value := range values {
		tag, payload, err := r.Encode(value)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		tags[i], payloads[i] = tag, payload
	}

	out, err := appendBlock(nil, appendManifest(tags))
	if err != nil {
		return nil, err
	}
	for _, payload := range payloads {
		if out, err = appendBlock(out, payload); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// decodeElements reads what encodeElements wrote, decoding each block with the codec named by the manifest.
func decodeElements(r *registry.Registry, data []byte) ([]any, error) {
	manifest, rest, err := readBlock(data)
	if err != nil {
		return nil, err
	}
	tags, err := parseManifest(manifest)
	if err != nil {
		return nil, err
	}
	values := make([]any, 0, len(tags))
	for i, tag := range tags {
		var block []byte
		if block, rest, err = readBlock(rest); err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		value, err := r.Decode(tag, block)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		values = append(values, value)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%d trailing bytes after %d elements", len(rest), len(tags))
	}
	return values, nil
}

// sequenceCodec handles []any and named slices of it such as Tuple.
type sequenceCodec[S ~[]any] struct{}

func (sequenceCodec[S]) Encode(r *registry.Registry, v any) ([]byte, error) {
	sequence, ok := v.(S)
	if !ok {
		return nil, fmt.Errorf("expected %v, got %T", reflect.TypeFor[S](), v)
	}
	if sequence == nil {
		return []byte{}, nil
	}
	return encodeElements(r, sequence)
}

func (sequenceCodec[S]) Decode(r *registry.Registry, data []byte) (any, error) {
	if len(data) == 0 {
		return S(nil), nil
	}
	values, err := decodeElements(r, data)
	if err != nil {
		return nil, err
	}
	return S(values), nil
}

// Pairs are flattened to key, value, key, value... so the manifest holds one tag per key and one per value.
func flattenPairs(pairs Mapping) []any {
	flat := make([]any, 0, 2*len(pairs))
	for _, pair := range pairs {
		flat = append(flat, pair.Key, pair.Value)
	}
	return flat
}

func unflattenPairs(flat []any) (Mapping, error) {
	if len(flat)%2 != 0 {
		return nil, fmt.Errorf("mapping has an odd number (%d) of keys and values", len(flat))
	}
	pairs := make(Mapping, 0, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		pairs = append(pairs, utils.MakePair(flat[i], flat[i+1]))
	}
	return pairs, nil
}

type mappingCodec struct{}

func (mappingCodec) Encode(r *registry.Registry, v any) ([]byte, error) {
	mapping, ok := v.(Mapping)
	if !ok {
		return nil, fmt.Errorf("expected serde.Mapping, got %T", v)
	}
	if mapping == nil {
		return []byte{}, nil
	}
	return encodeElements(r, flattenPairs(mapping))
}

func (mappingCodec) Decode(r *registry.Registry, data []byte) (any, error) {
	if len(data) == 0 {
		return Mapping(nil), nil
	}
	flat, err := decodeElements(r, data)
	if err != nil {
		return nil, err
	}
	return unflattenPairs(flat)
}

// dictCodec stores map[string]any with sorted keys, so equal maps always encode to the same bytes.
type dictCodec struct{}

func (dictCodec) Encode(r *registry.Registry, v any) ([]byte, error) {
	dict, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected map[string]any, got %T", v)
	}
	if dict == nil {
		return []byte{}, nil
	}
	pairs := make(Mapping, 0, len(dict))
	for _, key := range slices.Sorted(maps.Keys(dict)) {
		pairs = append(pairs, utils.MakePair[any, any](key, dict[key]))
	}
	return encodeElements(r, flattenPairs(pairs))
}

func (dictCodec) Decode(r *registry.Registry, data []byte) (any, error) {
	if len(data) == 0 {
		return map[string]any(nil), nil
	}
	flat, err := decodeElements(r, data)
	if err != nil {
		return nil, err
	}
	pairs, err := unflattenPairs(flat)
	if err != nil {
		return nil, err
	}
	dict := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, ok := pair.Key.(string)
		if !ok {
			return nil, fmt.Errorf("dict key of type %T", pair.Key)
		}
		if _, duplicate := dict[key]; duplicate {
			return nil, fmt.Errorf("duplicate dict key %q", key)
		}
		dict[key] = pair.Value
	}
	return dict, nil
}

// Composites returns the registrations of the manifest based container codecs.
func Composites() []registry.Registration {
	return []registry.Registration{
		{Tag: "list", Type: reflect.TypeFor[[]any](), Codec: sequenceCodec[[]any]{}},
		{Tag: "tuple", Type: reflect.TypeFor[Tuple](), Codec: sequenceCodec[Tuple]{}},
		{Tag: "mapping", Type: reflect.TypeFor[Mapping](), Codec: mappingCodec{}},
		{Tag: "dict", Type: reflect.TypeFor[map[string]any](), Codec: dictCodec{}},
	}
}
