// The registry routes values to codecs by their exact runtime type, and stored entries back to codecs by their
// type tag. It is assembled with a Builder during setup and then frozen into an immutable Registry, so lookups
// never race with registrations.

package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"slices"
)

var (
	// ErrSerialization is returned when a value has no registered codec or its codec fails.
	ErrSerialization = errors.New("serialization failed")
	// ErrDeserialization is returned when a stored tag is unknown to the registry or its payload is malformed.
	ErrDeserialization = errors.New("deserialization failed")
	// ErrDependencyUnavailable is returned by capabilities whose backing library isn't part of the build.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	// ErrDuplicate is returned when a type or a tag is registered twice.
	ErrDuplicate = errors.New("duplicate registration")
)

// NilTag is reserved for nil values, which are stored with an empty payload.
const NilTag = "nil"

// Codec converts values of one registered type to bytes and back. The registry is handed over so that composite
// codecs can recurse into their elements.
type Codec interface {
	Encode(r *Registry, v any) ([]byte, error)
	Decode(r *Registry, data []byte) (any, error)
}

// HashFunc returns a deterministic digest of a value; equal values must produce equal digests.
type HashFunc func(v any) ([]byte, error)

// Registration binds a Go type to its stable tag, codec and optional hash.
type Registration struct {
	Tag   string
	Type  reflect.Type
	Codec Codec
	Hash  HashFunc // Optional; defaults to a digest of the tagged encoding.
}

// Capability produces a registration, or an error wrapping ErrDependencyUnavailable when it can't be offered.
type Capability func() (Registration, error)

// Builder collects registrations. It is not safe for concurrent use.
type Builder struct {
	byType map[reflect.Type]Registration
	byTag  map[string]Registration
}

func NewBuilder() *Builder {
	return &Builder{byType: make(map[reflect.Type]Registration), byTag: make(map[string]Registration)}
}

// NewBuilderFrom starts a builder holding every registration of r.
func NewBuilderFrom(r *Registry) *Builder {
	return &Builder{byType: maps.Clone(r.byType), byTag: maps.Clone(r.byTag)}
}

// Register adds a registration; both its type and tag must be new.
func (b *Builder) Register(registration Registration) error {
	switch {
	case registration.Tag == "":
		return errors.New("registration tag must not be empty")
	case registration.Tag == NilTag:
		return fmt.Errorf("tag %q is reserved", NilTag)
	case registration.Type == nil:
		return fmt.Errorf("registration %q has no type", registration.Tag)
	case registration.Codec == nil:
		return fmt.Errorf("registration %q has no codec", registration.Tag)
	}
	if existing, found := b.byType[registration.Type]; found {
		return fmt.Errorf("%w: type %v is already registered as %q", ErrDuplicate, registration.Type, existing.Tag)
	}
	if existing, found := b.byTag[registration.Tag]; found {
		return fmt.Errorf("%w: tag %q is already used by %v", ErrDuplicate, registration.Tag, existing.Type)
	}
	b.byType[registration.Type] = registration
	b.byTag[registration.Tag] = registration
	return nil
}

// MustRegister is Register for setup code where a failure is a programming error.
func (b *Builder) MustRegister(registrations ...Registration) *Builder {
	for _, registration := range registrations {
		if err := b.Register(registration); err != nil {
			panic(err)
		}
	}
	return b
}

// RegisterCapability registers what the capability offers. Unavailable capabilities narrow the registry
// instead of failing; any other error is returned.
func (b *Builder) RegisterCapability(capability Capability) error {
	registration, err := capability()
	if errors.Is(err, ErrDependencyUnavailable) {
		slog.Debug("Skipping unavailable serializer capability.", "error", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to resolve serializer capability: %w", err)
	}
	return b.Register(registration)
}

// Build freezes the registrations collected so far; the builder stays usable.
func (b *Builder) Build() *Registry {
	return &Registry{
		byType: maps.Clone(b.byType),
		byTag:  maps.Clone(b.byTag),
		tags:   slices.Sorted(maps.Keys(b.byTag)),
	}
}

// Registry is an immutable set of registrations, safe for concurrent use.
type Registry struct {
	byType map[reflect.Type]Registration
	byTag  map[string]Registration
	tags   []string
}

// Lookup finds the registration for the exact runtime type of v.
func (r *Registry) Lookup(v any) (Registration, bool) {
	registration, found := r.byType[reflect.TypeOf(v)]
	return registration, found
}

// ByTag finds the registration stored entries tagged with `tag` decode through.
func (r *Registry) ByTag(tag string) (Registration, bool) {
	registration, found := r.byTag[tag]
	return registration, found
}

// Tags returns the sorted registered tags, not including NilTag.
func (r *Registry) Tags() []string {
	return slices.Clone(r.tags)
}

// Encode serializes v with the codec registered for its exact type.
func (r *Registry) Encode(v any) (tag string, payload []byte, err error) {
	if v == nil {
		return NilTag, nil, nil
	}
	registration, found := r.Lookup(v)
	if !found {
		return "", nil, fmt.Errorf("%w: no codec registered for type %T", ErrSerialization, v)
	}
	payload, err = registration.Codec.Encode(r, v)
	if err != nil {
		if errors.Is(err, ErrSerialization) {
			return "", nil, err
		}
		return "", nil, fmt.Errorf("%w: encoding %q: %w", ErrSerialization, registration.Tag, err)
	}
	return registration.Tag, payload, nil
}

// Decode rebuilds a value from a tag and payload produced by Encode.
func (r *Registry) Decode(tag string, payload []byte) (any, error) {
	if tag == NilTag {
		if len(payload) != 0 {
			return nil, fmt.Errorf("%w: nil entry carries %d payload bytes", ErrDeserialization, len(payload))
		}
		return nil, nil
	}
	registration, found := r.ByTag(tag)
	if !found {
		return nil, fmt.Errorf("%w: unknown type tag %q", ErrDeserialization, tag)
	}
	value, err := registration.Codec.Decode(r, payload)
	if err != nil {
		if errors.Is(err, ErrDeserialization) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: decoding %q: %w", ErrDeserialization, tag, err)
	}
	return value, nil
}
