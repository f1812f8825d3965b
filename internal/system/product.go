package system

import (
	"fmt"

	"github.com/Masterminds/semver"
)

// Release is a macOS release (e.g. Catalina, Sonoma).
type Release uint8

const (
	Unknown Release = iota
	Mojave
	Catalina
	BigSur
	Monterey
	Ventura
	Sonoma
	Sequoia
	Tahoe
	CompatMode
)

func (r Release) String() string {
	switch r {
	case Mojave:
		return "Mojave"
	case Catalina:
		return "Catalina"
	case BigSur:
		return "Big Sur"
	case Monterey:
		return "Monterey"
	case Ventura:
		return "Ventura"
	case Sonoma:
		return "Sonoma"
	case Sequoia:
		return "Sequoia"
	case Tahoe:
		return "Tahoe"
	case CompatMode:
		return "Compatibility Mode"
	default:
		return "unknown"
	}
}

// releaseConstraints maps each release to the versions it covers. Order matters: the first match wins.
var releaseConstraints = []struct {
	release    Release
	constraint *semver.Constraints
}{
	{Mojave, mustInitConstraint(semver.NewConstraint("~10.14"))},
	{Catalina, mustInitConstraint(semver.NewConstraint("~10.15"))},
	// 10.16 is what Big Sur and later report in compat mode (SYSTEM_VERSION_COMPAT=1).
	{CompatMode, mustInitConstraint(semver.NewConstraint("~10.16"))},
	{BigSur, mustInitConstraint(semver.NewConstraint("~11"))},
	{Monterey, mustInitConstraint(semver.NewConstraint("~12"))},
	{Ventura, mustInitConstraint(semver.NewConstraint("~13"))},
	{Sonoma, mustInitConstraint(semver.NewConstraint("~14"))},
	{Sequoia, mustInitConstraint(semver.NewConstraint("~15"))},
	{Tahoe, mustInitConstraint(semver.NewConstraint("~26"))},
}

// mustInitConstraint ensures that a semver.Constraints can be initialized and used.
func mustInitConstraint(c *semver.Constraints, err error) *semver.Constraints {
	if err != nil {
		panic(fmt.Errorf("must initialize semver constraint: %w", err))
	}
	return c
}

// Product identifies a macOS release and product version (e.g. Sonoma 14.x).
type Product struct {
	Release
	Version semver.Version
}

func (p Product) String() string {
	return fmt.Sprintf("macOS %s %s", p.Release, p.Version.String())
}

// newProduct parses version and identifies its Release.
func newProduct(version string) (*Product, error) {
	ver, err := semver.NewVersion(version)
	if err != nil {
		return nil, err
	}

	return &Product{
		Release: getVersionRelease(*ver),
		Version: *ver,
	}, nil
}

// getVersionRelease checks all known release constraints to determine which Release the version belongs to.
func getVersionRelease(version semver.Version) Release {
	for _, rc := range releaseConstraints {
		if rc.constraint.Check(&version) {
			return rc.release
		}
	}
	return Unknown
}
