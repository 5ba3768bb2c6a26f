package serde

import (
	"fmt"
	"time"

	"github.com/nobletooth/kissml/pkg/frame"
	"github.com/nobletooth/kissml/pkg/registry"
)

// DefaultBuilder returns a builder holding the scalar and composite codecs, time.Time, and every optional
// capability available in this build (the columnar frame codec for instance).
// time.Time goes through MarshalBinary, which drops the monotonic clock reading: a decoded time.Now() is
// deep-equal to time.Now().Round(0), and Equal to the original.
func DefaultBuilder() (*registry.Builder, error) {
	builder := registry.NewBuilder()
	registrations := append(Scalars(), Composites()...)
	registrations = append(registrations, Binary[time.Time]("time"))
	for _, registration := range registrations {
		if err := builder.Register(registration); err != nil {
			return nil, fmt.Errorf("failed to register %q: %w", registration.Tag, err)
		}
	}
	for _, capability := range []registry.Capability{frame.Capability} {
		if err := builder.RegisterCapability(capability); err != nil {
			return nil, err
		}
	}
	return builder, nil
}

// Default returns the immutable default registry. It panics if the built-in registrations conflict, which can
// only happen through a programming error.
func Default() *registry.Registry {
	builder, err := DefaultBuilder()
	if err != nil {
		panic(err)
	}
	return builder.Build()
}
