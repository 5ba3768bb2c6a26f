//go:build kissml_noflatbuffers

package frame

import (
	"fmt"

	"github.com/nobletooth/kissml/pkg/registry"
)

// Tag is the type tag frames are stored under.
const Tag = "frame"

// Capability reports the columnar codec as unavailable; this build leaves out the FlatBuffers backend.
func Capability() (registry.Registration, error) {
	return registry.Registration{}, fmt.Errorf("frame codec: %w", registry.ErrDependencyUnavailable)
}
