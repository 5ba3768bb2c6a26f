package registry

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// Hash returns a deterministic digest of v that only depends on its type and contents.
// Resolution order: the registered hash, then a digest of the tagged encoding, then a structural digest of the
// msgpack form with sorted map keys for types the registry can't encode.
func (r *Registry) Hash(v any) ([]byte, error) {
	if v == nil {
		return digest([]byte(NilTag)), nil
	}
	if registration, found := r.Lookup(v); found {
		if registration.Hash != nil {
			return registration.Hash(v)
		}
		if tag, payload, err := r.Encode(v); err == nil {
			return digest([]byte(tag), []byte{0}, payload), nil
		}
	}
	return structuralHash(v)
}

// structuralHash is only used for hashing; msgpack bytes are never persisted by it.
func structuralHash(v any) ([]byte, error) {
	var buffer bytes.Buffer
	encoder := msgpack.NewEncoder(&buffer)
	encoder.SetSortMapKeys(true)
	if err := encoder.Encode(v); err != nil {
		return nil, fmt.Errorf("%w: no structural hash for %T: %w", ErrSerialization, v, err)
	}
	return digest([]byte(reflect.TypeOf(v).String()), []byte{0}, buffer.Bytes()), nil
}

func digest(parts ...[]byte) []byte {
	hasher := sha256.New()
	for _, part := range parts {
		hasher.Write(part)
	}
	return hasher.Sum(nil)
}
