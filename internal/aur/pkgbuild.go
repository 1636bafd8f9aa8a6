package aur

import (
	"bufio"
	"os"
	"strings"

	"github.com/ravenlinux/rvn/internal/rvnerr"
)

// PKGBUILD holds the handful of PKGBUILD fields needed to drive a build and
// populate a .rvn's metadata/manifest — spec.md §4.6 step 3 ("parse the
// PKGBUILD sufficient to extract pkgname, pkgver, pkgrel, depends,
// makedepends"), not a full shell-script interpreter.
type PKGBUILD struct {
	PkgName     string
	PkgVer      string
	PkgRel      string
	Depends     []string
	MakeDepends []string
}

// Version returns the distro-style "pkgver-pkgrel" string, matching how
// Arch (and this adapter) compose a single orderable version out of the
// two separate PKGBUILD fields.
func (p PKGBUILD) Version() string {
	if p.PkgRel == "" {
		return p.PkgVer
	}
	return p.PkgVer + "-" + p.PkgRel
}

// ParsePKGBUILD extracts pkgname/pkgver/pkgrel/depends/makedepends from a
// PKGBUILD file by line-scanning `key=value` and `key=(a b c)` assignments.
// It does not evaluate shell: multi-line arrays, variable substitution, and
// conditionals are out of scope, matching the "extract sufficient fields"
// contract rather than a full bash interpreter.
func ParsePKGBUILD(path string) (PKGBUILD, error) {
	f, err := os.Open(path)
	if err != nil {
		return PKGBUILD{}, &rvnerr.IOError{Path: path, Cause: err}
	}
	defer f.Close()

	var pb PKGBUILD
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "pkgname":
			pb.PkgName = unquote(value)
		case "pkgver":
			pb.PkgVer = unquote(value)
		case "pkgrel":
			pb.PkgRel = unquote(value)
		case "depends":
			pb.Depends = parseArray(value)
		case "makedepends":
			pb.MakeDepends = parseArray(value)
		}
	}
	if err := scanner.Err(); err != nil {
		return PKGBUILD{}, &rvnerr.IOError{Path: path, Cause: err}
	}
	if pb.PkgName == "" || pb.PkgVer == "" {
		return PKGBUILD{}, &rvnerr.CorruptArchive{Name: path, Detail: "PKGBUILD missing pkgname or pkgver"}
	}
	return pb, nil
}

func unquote(s string) string {
	s = strings.Trim(s, `'"`)
	return s
}

// parseArray splits a PKGBUILD `(a b 'c d' "e")` array literal into its
// whitespace-separated, quote-stripped elements.
func parseArray(value string) []string {
	value = strings.TrimPrefix(value, "(")
	value = strings.TrimSuffix(value, ")")
	fields := strings.Fields(value)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, unquote(f))
	}
	return out
}
