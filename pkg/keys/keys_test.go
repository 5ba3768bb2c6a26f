package keys

import (
	"strings"
	"testing"

	"github.com/nobletooth/kissml/pkg/serde"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var trainSignature = MustSignature(Required("data"), Required("epochs"), Optional("lr", 0.1))

func TestNewSignature_Invalid(t *testing.T) {
	_, err := NewSignature(Required("a"), Required("a"))
	assert.ErrorContains(t, err, "duplicate")
	_, err = NewSignature(Required(""))
	assert.Error(t, err)
	_, err = NewSignature(Optional("a", 1), Required("b"))
	assert.Error(t, err)
	assert.Panics(t, func() { MustSignature(Required("a"), Required("a")) })
}

func TestBind(t *testing.T) {
	t.Run("call styles agree", func(t *testing.T) {
		want := []any{"train.csv", 3, 0.1}
		for _, args := range [][]any{
			{"train.csv", 3},
			{"train.csv", Named("epochs", 3)},
			{Named("epochs", 3), Named("data", "train.csv")},
			{"train.csv", 3, 0.1},
			{"train.csv", 3, Named("lr", 0.1)},
		} {
			bound, err := trainSignature.Bind(args...)
			require.NoError(t, err, args)
			var got []any
			for _, pair := range bound.Pairs() {
				got = append(got, pair.Value)
			}
			assert.Equal(t, want, got, args)
		}
	})

	for name, args := range map[string][]any{
		"too many":              {"a", 1, 0.1, "extra"},
		"missing":               {"a"},
		"unknown name":          {"a", 1, Named("momentum", 0.9)},
		"duplicate":             {"a", 1, Named("data", "b")},
		"positional after name": {Named("data", "a"), 1},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := trainSignature.Bind(args...)
			assert.ErrorIs(t, err, ErrBind)
		})
	}
}

func TestArg(t *testing.T) {
	bound, err := trainSignature.Bind("train.csv", 3, Named("lr", nil))
	require.NoError(t, err)

	epochs, err := Arg[int](bound, "epochs")
	require.NoError(t, err)
	assert.Equal(t, 3, epochs)

	lr, err := Arg[float64](bound, "lr")
	require.NoError(t, err)
	assert.Zero(t, lr, "nil binds to the zero value")

	_, err = Arg[string](bound, "epochs")
	assert.ErrorIs(t, err, ErrBind)
	_, err = Arg[string](bound, "missing")
	assert.ErrorIs(t, err, ErrBind)
}

func TestBuilder_Build(t *testing.T) {
	builder := NewBuilder(serde.Default())
	double := MustSignature(Required("x"))

	positional, err := builder.BuildCall(0, double, 5)
	require.NoError(t, err)
	named, err := builder.BuildCall(0, double, Named("x", 5))
	require.NoError(t, err)
	assert.Equal(t, positional, named, "Positional and named calls must share a key")

	bumped, err := builder.BuildCall(1, double, 5)
	require.NoError(t, err)
	assert.NotEqual(t, positional, bumped)
	assert.Equal(t, positional.Digest, bumped.Digest, "The version isn't hashed into the digest")

	other, err := builder.BuildCall(0, double, 6)
	require.NoError(t, err)
	assert.NotEqual(t, positional, other)

	t.Run("argument names matter", func(t *testing.T) {
		first, err := builder.BuildCall(0, MustSignature(Required("a"), Required("b")), 1, 2)
		require.NoError(t, err)
		swapped, err := builder.BuildCall(0, MustSignature(Required("a"), Required("b")), 2, 1)
		require.NoError(t, err)
		renamed, err := builder.BuildCall(0, MustSignature(Required("b"), Required("a")), 2, 1)
		require.NoError(t, err)
		assert.NotEqual(t, first, swapped)
		assert.Equal(t, first, renamed, "Digests only depend on (name, value) pairs")
	})

	t.Run("equal containers hash equally", func(t *testing.T) {
		signature := MustSignature(Required("config"))
		first, err := builder.BuildCall(0, signature, map[string]any{"a": []any{1, 2}, "b": "x"})
		require.NoError(t, err)
		second, err := builder.BuildCall(0, signature, map[string]any{"b": "x", "a": []any{1, 2}})
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("unregistered values fall back to structural hashing", func(t *testing.T) {
		type options struct{ Depth int }
		signature := MustSignature(Required("options"))
		first, err := builder.BuildCall(0, signature, options{Depth: 3})
		require.NoError(t, err)
		second, err := builder.BuildCall(0, signature, options{Depth: 3})
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("unhashable", func(t *testing.T) {
		_, err := builder.BuildCall(0, double, func() {})
		assert.ErrorContains(t, err, `argument "x"`)
	})

	t.Run("bind errors", func(t *testing.T) {
		_, err := builder.BuildCall(0, double)
		assert.ErrorIs(t, err, ErrBind)
	})
}

func TestCacheKey_Text(t *testing.T) {
	key, err := NewBuilder(serde.Default()).BuildCall(-3, MustSignature(Required("x")), "value")
	require.NoError(t, err)

	text := key.String()
	assert.True(t, strings.HasPrefix(text, "-3:sha256:"), text)
	assert.Len(t, text, len("-3:sha256:")+64)

	parsed, err := ParseCacheKey(text)
	require.NoError(t, err)
	assert.Equal(t, key, parsed)

	raw := key.Bytes()
	assert.Len(t, raw, 40)
	assert.Equal(t, key.Digest[:], raw[8:])

	for _, bad := range []string{"", "12", "x:sha256:" + strings.Repeat("a", 64), "1:sha256:zz", "1:md5:abc"} {
		_, err := ParseCacheKey(bad)
		assert.Error(t, err, bad)
	}
}
