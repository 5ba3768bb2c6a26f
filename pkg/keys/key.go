package keys

import (
	"cmp"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/nobletooth/kissml/pkg/registry"
	"github.com/nobletooth/kissml/pkg/utils"
	"github.com/opencontainers/go-digest"
)

// CacheKey identifies one cached result. Version leads the key unhashed, so bumping it is an auditable
// invalidation. Keys are comparable with ==.
type CacheKey struct {
	Version int64
	Digest  [sha256.Size]byte
}

// String renders the key as "<version>:sha256:<hex digest>".
func (k CacheKey) String() string {
	return strconv.FormatInt(k.Version, 10) + ":" + digest.NewDigestFromBytes(digest.SHA256, k.Digest[:]).String()
}

// Bytes renders the key as the big endian version followed by the raw digest.
func (k CacheKey) Bytes() []byte {
	out := binary.BigEndian.AppendUint64(make([]byte, 0, 8+sha256.Size), uint64(k.Version))
	return append(out, k.Digest[:]...)
}

// ParseCacheKey is the inverse of CacheKey.String.
func ParseCacheKey(text string) (CacheKey, error) {
	versionText, digestText, found := strings.Cut(text, ":")
	if !found {
		return CacheKey{}, fmt.Errorf("cache key %q has no version", text)
	}
	version, err := strconv.ParseInt(versionText, 10, 64)
	if err != nil {
		return CacheKey{}, fmt.Errorf("cache key %q has a bad version: %w", text, err)
	}
	parsed, err := digest.Parse(digestText)
	if err != nil {
		return CacheKey{}, fmt.Errorf("cache key %q has a bad digest: %w", text, err)
	}
	if parsed.Algorithm() != digest.SHA256 {
		return CacheKey{}, fmt.Errorf("cache key %q uses unsupported algorithm %s", text, parsed.Algorithm())
	}
	key := CacheKey{Version: version}
	if _, err := hex.Decode(key.Digest[:], []byte(parsed.Encoded())); err != nil {
		return CacheKey{}, fmt.Errorf("cache key %q has a bad digest: %w", text, err)
	}
	return key, nil
}

// Builder derives cache keys from bound arguments, hashing each value through the registry.
type Builder struct {
	registry *registry.Registry
}

func NewBuilder(r *registry.Registry) *Builder {
	return &Builder{registry: r}
}

// Build digests the bound arguments: every value is hashed on its own, then a sha256 runs over the
// (name, hash) pairs sorted by name, each part length-prefixed.
func (b *Builder) Build(version int64, bound Bound) (CacheKey, error) {
	hashed := make([]utils.Pair[string, []byte], 0, bound.Len())
	for _, arg := range bound.args {
		argHash, err := b.registry.Hash(arg.Value)
		if err != nil {
			return CacheKey{}, fmt.Errorf("failed to hash argument %q: %w", arg.Key, err)
		}
		hashed = append(hashed, utils.MakePair(arg.Key, argHash))
	}
	slices.SortFunc(hashed, func(a, b utils.Pair[string, []byte]) int { return cmp.Compare(a.Key, b.Key) })

	hasher := sha256.New()
	var lengthPrefix [4]byte
	for _, arg := range hashed {
		binary.BigEndian.PutUint32(lengthPrefix[:], uint32(len(arg.Key)))
		hasher.Write(lengthPrefix[:])
		hasher.Write([]byte(arg.Key))
		binary.BigEndian.PutUint32(lengthPrefix[:], uint32(len(arg.Value)))
		hasher.Write(lengthPrefix[:])
		hasher.Write(arg.Value)
	}
	key := CacheKey{Version: version}
	hasher.Sum(key.Digest[:0])
	return key, nil
}

// BuildCall binds `args` against the signature and builds the key in one go.
func (b *Builder) BuildCall(version int64, signature Signature, args ...any) (CacheKey, error) {
	bound, err := signature.Bind(args...)
	if err != nil {
		return CacheKey{}, err
	}
	return b.Build(version, bound)
}
