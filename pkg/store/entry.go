package store

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/nobletooth/kissml/pkg/registry"
)

// encodeEntry frames a tagged payload as [u32 tag_len][tag][payload], big endian.
func encodeEntry(tag string, payload []byte) ([]byte, error) {
	if uint64(len(tag)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: type tag of %d bytes", registry.ErrSerialization, len(tag))
	}
	entry := make([]byte, 0, 4+len(tag)+len(payload))
	entry = binary.BigEndian.AppendUint32(entry, uint32(len(tag)))
	entry = append(entry, tag...)
	return append(entry, payload...), nil
}

// decodeEntry splits a framed entry back into its tag and payload; the payload aliases `entry`.
func decodeEntry(entry []byte) (string, []byte, error) {
	if len(entry) < 4 {
		return "", nil, fmt.Errorf("%w: entry of %d bytes has no tag header", registry.ErrDeserialization, len(entry))
	}
	tagLength := binary.BigEndian.Uint32(entry)
	if uint64(tagLength) > uint64(len(entry)-4) {
		return "", nil, fmt.Errorf("%w: tag length %d exceeds entry size %d", registry.ErrDeserialization,
			tagLength, len(entry))
	}
	tag := string(entry[4 : 4+tagLength])
	if tag == "" || !utf8.ValidString(tag) {
		return "", nil, fmt.Errorf("%w: malformed type tag %q", registry.ErrDeserialization, tag)
	}
	return tag, entry[4+tagLength:], nil
}
