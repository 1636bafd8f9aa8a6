// Package version implements the relaxed semantic-version ordering spec.md
// §3 requires: distro-style "x.y.z[-rN]" strings ordered the way semver
// orders them, falling back to a lexical comparison for anything that
// doesn't parse as semver at all (rolling-release and VCS-snapshot version
// strings are common in AUR and community repo packages).
package version

import (
	"strings"

	"github.com/Masterminds/semver"
)

// Version is a parsed, orderable package version.
type Version struct {
	raw string
	sem *semver.Version
}

// Parse accepts "x.y.z", "x.y", "x", and "x.y.z-rN" style distro versions.
// Missing minor/patch components are zero-filled before handing the string
// to Masterminds/semver, so "1.2-3" and "7" parse the same way a strict
// "1.2.3" would. Anything that still fails to parse is kept as a raw,
// lexically-ordered version rather than rejected outright: the resolver and
// cache must be able to hold AUR/VCS snapshot versions like "r123.abcdef"
// that are not valid semver at all.
func Parse(raw string) Version {
	normalized := normalize(raw)
	if sv, err := semver.NewVersion(normalized); err == nil {
		return Version{raw: raw, sem: sv}
	}
	return Version{raw: raw}
}

// normalize rewrites a distro-style version into something semver.NewVersion
// can parse: zero-fills missing components and turns a trailing "-rN" debian
// style revision into a semver prerelease component.
func normalize(raw string) string {
	core, rev, hasRev := strings.Cut(raw, "-")
	parts := strings.Split(core, ".")
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	normalized := strings.Join(parts[:3], ".")
	if hasRev && rev != "" {
		normalized += "-" + rev
	}
	return normalized
}

// String returns the original, unnormalized version string.
func (v Version) String() string { return v.raw }

// Compare returns -1, 0, or 1 as v is less than, equal to, or greater than
// other. When both versions parsed as semver, ordering follows semver
// precedence (so "1.2.0" > "1.2.0-r1" > "1.1.9"). Otherwise it falls back to
// a plain string comparison, which is stable but not semantically aware.
func (v Version) Compare(other Version) int {
	if v.sem != nil && other.sem != nil {
		return v.sem.Compare(other.sem)
	}
	switch {
	case v.raw < other.raw:
		return -1
	case v.raw > other.raw:
		return 1
	default:
		return 0
	}
}

// LessThan reports whether v orders strictly before other.
func (v Version) LessThan(other Version) bool { return v.Compare(other) < 0 }

// Equal reports whether v and other compare equal.
func (v Version) Equal(other Version) bool { return v.Compare(other) == 0 }

// Newer reports whether v is a newer version than other — used by `upgrade`
// to decide whether a repository's candidate replaces the installed version.
func Newer(candidate, installed string) bool {
	return Parse(candidate).Compare(Parse(installed)) > 0
}
