package plugin

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

var (
	// 1.2.3.4 is read as the prerelease 1.2.3-4
	fourPartVersion = regexp.MustCompile(`^([0-9]+)\.([0-9]+)\.([0-9]+)\.([0-9]+)$`)
	// 0.0.209dev12 is read as the prerelease 0.0.209-12
	devVersion = regexp.MustCompile(`^([0-9]+)\.([0-9]+)\.([0-9]+)dev([0-9]+)$`)
)

// Version is a semantic version that remembers the text it was parsed from.
// The raw text is what appears in archive filenames; ordering and identity
// use the semantic value.
type Version struct {
	raw string
	sv  *semver.Version
}

// ParseVersion parses a strict semantic version. The legacy four-part and
// "dev" forms produced by older plugin builds are coerced into prereleases.
func ParseVersion(s string) (Version, error) {
	if s == "" {
		return Version{}, fmt.Errorf("%w: empty version", ErrInvalidVersion)
	}

	if m := fourPartVersion.FindStringSubmatch(s); m != nil {
		return coerceLegacy(s, m)
	}
	if m := devVersion.FindStringSubmatch(s); m != nil {
		return coerceLegacy(s, m)
	}

	sv, err := semver.StrictNewVersion(s)
	if err != nil {
		return Version{}, fmt.Errorf("%w: %q: %v", ErrInvalidVersion, s, err)
	}
	return Version{raw: s, sv: sv}, nil
}

// MustParseVersion is like ParseVersion but panics on error. Intended for tests and constants.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

func coerceLegacy(raw string, m []string) (Version, error) {
	parts := make([]uint64, 3)
	for i := range parts {
		n, err := strconv.ParseUint(m[i+1], 10, 64)
		if err != nil {
			return Version{}, fmt.Errorf("%w: %q: %v", ErrInvalidVersion, raw, err)
		}
		parts[i] = n
	}
	pre := strings.TrimLeft(m[4], "0")
	if pre == "" {
		pre = "0"
	}
	return Version{raw: raw, sv: semver.New(parts[0], parts[1], parts[2], pre, "")}, nil
}

// String returns the version exactly as it was written.
func (v Version) String() string {
	return v.raw
}

// Canonical returns the normalised semantic version, including build metadata.
func (v Version) Canonical() string {
	if v.sv == nil {
		return ""
	}
	return v.sv.String()
}

// IsZero reports whether v is the zero Version.
func (v Version) IsZero() bool {
	return v.sv == nil
}

// Prerelease returns the prerelease part of the version, if any.
func (v Version) Prerelease() string {
	if v.sv == nil {
		return ""
	}
	return v.sv.Prerelease()
}

// IsPrerelease reports whether v carries a prerelease tag.
func (v Version) IsPrerelease() bool {
	return v.Prerelease() != ""
}

// Metadata returns the build metadata of the version, if any.
func (v Version) Metadata() string {
	if v.sv == nil {
		return ""
	}
	return v.sv.Metadata()
}

// Compare orders two versions by semantic version precedence. Build metadata
// is ignored and a prerelease sorts before its release. The zero Version sorts first.
func (v Version) Compare(o Version) int {
	switch {
	case v.sv == nil && o.sv == nil:
		return 0
	case v.sv == nil:
		return -1
	case o.sv == nil:
		return 1
	}
	return v.sv.Compare(o.sv)
}

// Equal reports whether both versions have the same identity, build metadata included.
func (v Version) Equal(o Version) bool {
	return v.Canonical() == o.Canonical()
}

// HasPrefix reports whether the version starts with the given dotted prefix.
// The match respects component boundaries: "1.2" matches 1.2.0 and 1.2.7-rc1
// but not 1.20.0. A prefix ending in '.' or '-' supplies its own boundary.
func (v Version) HasPrefix(prefix string) bool {
	if prefix == "" {
		return true
	}
	for _, s := range []string{v.raw, v.Canonical()} {
		if s == prefix {
			return true
		}
		if strings.HasPrefix(s, prefix) {
			if strings.HasSuffix(prefix, ".") || strings.HasSuffix(prefix, "-") {
				return true
			}
			switch s[len(prefix)] {
			case '.', '-', '+':
				return true
			}
		}
	}
	return false
}

// Spellings returns the version texts that parse to the same identity as v:
// the raw text, the canonical form and, for a purely numeric prerelease, the
// four-part and "dev" forms of older builds. Spellings with padded zeros are
// not listed; see HasLegacyForms.
func (v Version) Spellings() []string {
	if v.sv == nil {
		return nil
	}
	out := []string{v.raw}
	add := func(s string) {
		for _, have := range out {
			if have == s {
				return
			}
		}
		out = append(out, s)
	}
	add(v.Canonical())
	if v.HasLegacyForms() {
		base := fmt.Sprintf("%d.%d.%d", v.sv.Major(), v.sv.Minor(), v.sv.Patch())
		add(base + "." + v.sv.Prerelease())
		add(base + "dev" + v.sv.Prerelease())
	}
	return out
}

// HasLegacyForms reports whether older four-part or "dev" version texts can
// share v's identity.
func (v Version) HasLegacyForms() bool {
	if v.sv == nil || v.sv.Metadata() != "" {
		return false
	}
	_, err := strconv.ParseUint(v.sv.Prerelease(), 10, 64)
	return err == nil
}
