package serde

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/nobletooth/kissml/pkg/registry"
	"github.com/nobletooth/kissml/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type experiment struct {
	Name    string
	Seeds   []int64
	Metrics map[string]float64
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	builder, err := DefaultBuilder()
	require.NoError(t, err)
	require.NoError(t, builder.Register(Opaque[experiment]("experiment")))
	return builder.Build()
}

// roundTrip encodes then decodes v, returning the tag alongside the decoded value.
func roundTrip(t *testing.T, r *registry.Registry, v any) (string, any) {
	t.Helper()
	tag, payload, err := r.Encode(v)
	require.NoError(t, err)
	decoded, err := r.Decode(tag, payload)
	require.NoError(t, err)
	return tag, decoded
}

func TestScalars_RoundTrip(t *testing.T) {
	r := testRegistry(t)
	for _, testCase := range []struct {
		value any
		tag   string
	}{
		{true, "bool"},
		{false, "bool"},
		{-42, "int"},
		{int8(math.MinInt8), "int8"},
		{int16(math.MaxInt16), "int16"},
		{int32(-7), "int32"},
		{int64(math.MinInt64), "int64"},
		{uint(7), "uint"},
		{uint8(255), "uint8"},
		{uint16(65535), "uint16"},
		{uint32(math.MaxUint32), "uint32"},
		{uint64(math.MaxUint64), "uint64"},
		{float32(1.5), "float32"},
		{math.Inf(-1), "float64"},
		{"", "string"},
		{"héllo", "string"},
		{[]byte{0, 1, 255}, "bytes"},
	} {
		tag, decoded := roundTrip(t, r, testCase.value)
		assert.Equal(t, testCase.tag, tag)
		assert.Equal(t, testCase.value, decoded)
	}
}

func TestScalars_Malformed(t *testing.T) {
	r := testRegistry(t)
	for _, testCase := range []struct {
		tag     string
		payload []byte
	}{
		{"int", nil},
		{"int", []byte{0x02, 0x00}},   // Trailing byte.
		{"int8", []byte{0x80, 0x04}},  // 256 after zigzag decoding overflows int8.
		{"uint8", []byte{0x80, 0x02}}, // 256.
		{"bool", []byte{0x02}},        // Neither 0 nor 1.
		{"float64", []byte{1, 2, 3}},  // Too short.
		{"float32", []byte{1, 2, 3, 4, 5}},
		{"bytes", []byte{0x07, 'x'}}, // Unknown presence marker.
	} {
		_, err := r.Decode(testCase.tag, testCase.payload)
		assert.ErrorIs(t, err, registry.ErrDeserialization, "tag %s payload %v", testCase.tag, testCase.payload)
	}
}

func TestComposite_MixedList(t *testing.T) {
	r := testRegistry(t)
	value := []any{1, "a", map[string]any{"k": 1}}
	tag, decoded := roundTrip(t, r, value)
	assert.Equal(t, "list", tag)
	assert.Equal(t, value, decoded)
}

func TestComposite_Nested(t *testing.T) {
	r := testRegistry(t)
	value := map[string]any{
		"tuple": Tuple{int64(1), 2.5, nil, []byte("raw")},
		"list":  []any{[]any{}, Tuple{}, []any{uint16(3), Tuple{"deep", true}}},
		"mapping": Mapping{
			utils.MakePair[any, any](3, "three"),
			utils.MakePair[any, any]("one", 1),
			utils.MakePair[any, any](Tuple{1, 2}, map[string]any{}),
		},
		"experiment": experiment{Name: "baseline", Seeds: []int64{1, 2}, Metrics: map[string]float64{"auc": 0.9}},
	}
	_, decoded := roundTrip(t, r, value)
	assert.Equal(t, value, decoded)

	nested := decoded.(map[string]any)
	assert.IsType(t, Tuple{}, nested["tuple"], "Tuples stay tuples")
	mapping := nested["mapping"].(Mapping)
	assert.Equal(t, 3, mapping[0].Key, "Mappings keep insertion order")
	got, found := mapping.Get(Tuple{1, 2})
	assert.True(t, found)
	assert.Equal(t, map[string]any{}, got)
}

func TestRoundTrip_NilAndEmpty(t *testing.T) {
	r := testRegistry(t)
	for _, testCase := range []struct {
		name  string
		value any
	}{
		{"nil list", []any(nil)},
		{"empty list", []any{}},
		{"nil tuple", Tuple(nil)},
		{"empty tuple", Tuple{}},
		{"nil mapping", Mapping(nil)},
		{"empty mapping", Mapping{}},
		{"nil dict", map[string]any(nil)},
		{"empty dict", map[string]any{}},
		{"nil bytes", []byte(nil)},
		{"empty bytes", []byte{}},
		{"nested nils", []any{[]byte(nil), map[string]any(nil), Tuple{[]any(nil), []any{}}}},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			_, decoded := roundTrip(t, r, testCase.value)
			assert.True(t, reflect.DeepEqual(testCase.value, decoded), "decoded %#v", decoded)
		})
	}
}

func TestComposite_Layout(t *testing.T) {
	r := testRegistry(t)
	_, payload, err := r.Encode([]any{int8(1)})
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0, 0, 0, 6, // Manifest length.
		0x0a, 4, 'i', 'n', 't', '8', // Field 1, length delimited, "int8".
		0, 0, 0, 1, // Element length.
		0x02, // Zigzag encoded 1.
	}, payload)
}

func TestComposite_DictIsDeterministic(t *testing.T) {
	r := testRegistry(t)
	first := map[string]any{"b": 2, "a": 1, "c": []any{"x"}}
	second := map[string]any{"c": []any{"x"}, "a": 1, "b": 2}
	_, firstPayload, err := r.Encode(first)
	require.NoError(t, err)
	_, secondPayload, err := r.Encode(second)
	require.NoError(t, err)
	assert.Equal(t, firstPayload, secondPayload)
}

func TestComposite_Errors(t *testing.T) {
	r := testRegistry(t)

	t.Run("unregistered element", func(t *testing.T) {
		type unknown struct{}
		_, _, err := r.Encode([]any{1, unknown{}})
		assert.ErrorIs(t, err, registry.ErrSerialization)
		assert.ErrorContains(t, err, "element 1")
	})

	_, payload, err := r.Encode([]any{"abc", 7})
	require.NoError(t, err)

	t.Run("truncated", func(t *testing.T) {
		for cut := 1; cut < len(payload); cut++ { // An empty payload is a nil list.
			_, err := r.Decode("list", payload[:cut])
			assert.ErrorIs(t, err, registry.ErrDeserialization, "cut at %d", cut)
		}
	})

	t.Run("trailing bytes", func(t *testing.T) {
		_, err := r.Decode("list", append(append([]byte{}, payload...), 0))
		assert.ErrorIs(t, err, registry.ErrDeserialization)
	})

	t.Run("unknown element tag", func(t *testing.T) {
		manifest := appendManifest([]string{"dataframe"})
		corrupted, err := appendBlock(nil, manifest)
		require.NoError(t, err)
		corrupted, err = appendBlock(corrupted, []byte{1})
		require.NoError(t, err)
		_, err = r.Decode("list", corrupted)
		assert.ErrorIs(t, err, registry.ErrDeserialization)
		assert.ErrorContains(t, err, "dataframe")
	})

	t.Run("odd mapping", func(t *testing.T) {
		_, odd, err := r.Encode([]any{"lonely key"})
		require.NoError(t, err)
		_, err = r.Decode("mapping", odd)
		assert.ErrorIs(t, err, registry.ErrDeserialization)
	})

	t.Run("non string dict key", func(t *testing.T) {
		_, mapping, err := r.Encode(Mapping{utils.MakePair[any, any](1, 2)})
		require.NoError(t, err)
		_, err = r.Decode("dict", mapping)
		assert.ErrorIs(t, err, registry.ErrDeserialization)
	})
}

func TestMapping_Set(t *testing.T) {
	var mapping Mapping
	mapping.Set("a", 1)
	mapping.Set("b", 2)
	mapping.Set("a", 3)
	assert.Equal(t, Mapping{utils.MakePair[any, any]("a", 3), utils.MakePair[any, any]("b", 2)}, mapping)
	_, found := mapping.Get("c")
	assert.False(t, found)
}

func TestBinary_Time(t *testing.T) {
	r := testRegistry(t)
	moment := time.Date(2024, time.March, 1, 12, 30, 0, 0, time.UTC)
	tag, decoded := roundTrip(t, r, moment)
	assert.Equal(t, "time", tag)
	assert.True(t, reflect.DeepEqual(moment, decoded))

	now := time.Now()
	_, decoded = roundTrip(t, r, now)
	assert.True(t, now.Equal(decoded.(time.Time)))
	assert.True(t, reflect.DeepEqual(now.Round(0), decoded), "Only the monotonic reading is dropped.")
}

func TestDefault_Tags(t *testing.T) {
	tags := Default().Tags()
	for _, tag := range []string{"bool", "int", "float64", "string", "bytes", "list", "tuple", "mapping", "dict", "time"} {
		assert.Contains(t, tags, tag)
	}
}
