// Build information for kissml binaries; set through -ldflags at link time, e.g.
// -X github.com/nobletooth/kissml/pkg/utils.Version=v0.3.1
// CAUTION: This file shouldn't be removed or else the test mode flag wouldn't be set properly.

package utils

import (
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/mod/semver"
)

// devVersion is reported when the binary was built without version information.
const devVersion = "v0.0.0-dev"

var (
	TestMode   string // Should be true when running tests.
	IsTestMode bool
	Version    string
	Commit     string
	BuildTime  string
	StartTime  time.Time
)

func init() {
	StartTime = time.Now()

	// If build info is not set, make that clear.
	if Version == "" {
		Version = devVersion
	}
	if !semver.IsValid(Version) {
		slog.Warn("Build version is not a semantic version, falling back to dev version.", "version", Version)
		Version = devVersion
	}
	if Commit == "" {
		Commit = "unknown"
	}
	if BuildTime == "" {
		BuildTime = "unknown"
	}
	if len(TestMode) > 0 {
		if isTestMode, err := strconv.ParseBool(TestMode); err == nil {
			IsTestMode = isTestMode
		} else {
			slog.Warn("Failed to parse TestMode build flag, defaulting to false", "error", err)
		}
	}
}

// MajorVersion returns the major component of the build version, e.g. "v1".
func MajorVersion() string {
	return semver.Major(Version)
}
