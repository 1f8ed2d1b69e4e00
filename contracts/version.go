package contracts

import (
	"sync"

	"github.com/Masterminds/semver/v3"
)

// SupportedVersions is the constraint receivers apply to incoming envelopes
const SupportedVersions = "^2.0.0"

var (
	supportedOnce       sync.Once
	supportedConstraint *semver.Constraints
)

// IsCompatibleVersion reports whether an envelope version can be handled by
// this protocol implementation. An empty version comes from legacy senders
// and is accepted.
func IsCompatibleVersion(version string) bool {
	if version == "" {
		return true
	}

	supportedOnce.Do(func() {
		supportedConstraint, _ = semver.NewConstraint(SupportedVersions)
	})

	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}

	return supportedConstraint.Check(v)
}
