// Package plugin models plugin archives: their canonical filenames, semantic
// versions, selection of the newest candidate and the version requests an
// operator can make.
package plugin

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	archivePrefix = "plugin-"
	archiveSuffix = ".tar.gz"
	legacyVariant = "variant-"
)

var (
	namePattern    = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	variantPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
)

// ArchiveID identifies one physical plugin archive. The triple of name,
// version and variant is unique within a store; an empty Variant is its own key.
type ArchiveID struct {
	Name    string
	Version Version
	Variant string
}

// Key is the comparable identity of an ArchiveID, suitable as a map key.
type Key struct {
	Name    string
	Version string
	Variant string
}

// NewArchiveID validates the parts and builds an ArchiveID.
func NewArchiveID(name, version, variant string) (ArchiveID, error) {
	if err := ValidateName(name); err != nil {
		return ArchiveID{}, err
	}
	if err := ValidateVariant(variant); err != nil {
		return ArchiveID{}, err
	}
	v, err := ParseVersion(version)
	if err != nil {
		return ArchiveID{}, err
	}
	return ArchiveID{Name: name, Version: v, Variant: variant}, nil
}

// MustArchiveID is like NewArchiveID but panics on error.
func MustArchiveID(name, version, variant string) ArchiveID {
	id, err := NewArchiveID(name, version, variant)
	if err != nil {
		panic(err)
	}
	return id
}

// ValidateName checks a plugin name.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: invalid plugin name %q", ErrInvalidRequest, name)
	}
	return nil
}

// ValidateVariant checks a variant. The empty variant is valid.
func ValidateVariant(variant string) error {
	if variant != "" && !variantPattern.MatchString(variant) {
		return fmt.Errorf("%w: invalid variant %q", ErrInvalidRequest, variant)
	}
	return nil
}

// ParseFilename parses an archive filename of the form
// plugin-<name>-<version>[+<variant>].tar.gz. Any leading directory or URL
// path is ignored. The legacy layout plugin-<name>-variant-<variant>-<version>.tar.gz
// is accepted as well.
func ParseFilename(filename string) (ArchiveID, error) {
	base := path.Base(filepath.ToSlash(filename))
	malformed := func(reason string) (ArchiveID, error) {
		return ArchiveID{}, fmt.Errorf("%w: %q: %s", ErrMalformedArchiveName, base, reason)
	}

	if !strings.HasPrefix(base, archivePrefix) || !strings.HasSuffix(base, archiveSuffix) {
		return malformed("expected plugin-<name>-<version>.tar.gz")
	}
	body := strings.TrimSuffix(strings.TrimPrefix(base, archivePrefix), archiveSuffix)

	name, rest, ok := strings.Cut(body, "-")
	if !ok {
		return malformed("missing version")
	}
	if !namePattern.MatchString(name) {
		return malformed("invalid plugin name")
	}

	var versionText, variant string
	if strings.HasPrefix(rest, legacyVariant) {
		variant, versionText, ok = strings.Cut(strings.TrimPrefix(rest, legacyVariant), "-")
		if !ok || variant == "" {
			return malformed("missing version after variant")
		}
	} else {
		parts := strings.Split(rest, "+")
		switch len(parts) {
		case 1:
			versionText = parts[0]
		case 2:
			versionText, variant = parts[0], parts[1]
			if variant == "" {
				return malformed("empty variant")
			}
		case 3:
			versionText, variant = parts[0]+"+"+parts[1], parts[2]
		default:
			return malformed("too many '+' separators")
		}
	}

	if !variantPattern.MatchString(variant) && variant != "" {
		return malformed("invalid variant")
	}
	version, err := ParseVersion(versionText)
	if err != nil {
		return malformed(err.Error())
	}
	return ArchiveID{Name: name, Version: version, Variant: variant}, nil
}

// FormatFilename is the inverse of ParseFilename and always produces the
// canonical layout. When the version carries build metadata the variant
// separator is always written, so the two '+' sections stay distinguishable.
func FormatFilename(id ArchiveID) string {
	var b strings.Builder
	b.WriteString(archivePrefix)
	b.WriteString(id.Name)
	b.WriteByte('-')
	b.WriteString(id.Version.String())
	if id.Variant != "" || id.Version.Metadata() != "" {
		b.WriteByte('+')
		b.WriteString(id.Variant)
	}
	b.WriteString(archiveSuffix)
	return b.String()
}

// LegacyFilename returns the name the original tooling used for this archive.
// Archives whose version carries build metadata have no legacy form.
func LegacyFilename(id ArchiveID) (string, bool) {
	if id.Version.Metadata() != "" {
		return "", false
	}
	if id.Variant == "" {
		return FormatFilename(id), true
	}
	return fmt.Sprintf("%s%s-%s%s-%s%s", archivePrefix, id.Name, legacyVariant, id.Variant, id.Version.String(), archiveSuffix), true
}

// LooksLikeArchive reports whether s names a plugin archive.
func LooksLikeArchive(s string) bool {
	_, err := ParseFilename(s)
	return err == nil
}

// Filename returns the canonical archive filename.
func (id ArchiveID) Filename() string {
	return FormatFilename(id)
}

// Key returns the comparable identity of the archive.
func (id ArchiveID) Key() Key {
	return Key{Name: id.Name, Version: id.Version.Canonical(), Variant: id.Variant}
}

// Equal reports whether both ids name the same archive.
func (id ArchiveID) Equal(o ArchiveID) bool {
	return id.Key() == o.Key()
}

// Compare orders ids by name, then variant, then version.
func (id ArchiveID) Compare(o ArchiveID) int {
	if c := strings.Compare(id.Name, o.Name); c != 0 {
		return c
	}
	if c := strings.Compare(id.Variant, o.Variant); c != 0 {
		return c
	}
	return id.Version.Compare(o.Version)
}

// NameAndVariant returns "name" or "name [variant]" for display.
func (id ArchiveID) NameAndVariant() string {
	if id.Variant == "" {
		return id.Name
	}
	return fmt.Sprintf("%s [%s]", id.Name, id.Variant)
}

// String returns name[+variant]@version.
func (id ArchiveID) String() string {
	if id.Variant == "" {
		return fmt.Sprintf("%s@%s", id.Name, id.Version)
	}
	return fmt.Sprintf("%s+%s@%s", id.Name, id.Variant, id.Version)
}

// Filenames lists every filename, canonical and legacy, under which an
// archive with the same key as id may have been stored. The canonical name
// of id comes first.
func (id ArchiveID) Filenames() []string {
	var out []string
	seen := make(map[string]bool)
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, text := range id.Version.Spellings() {
		v, err := ParseVersion(text)
		if err != nil {
			continue
		}
		spelled := ArchiveID{Name: id.Name, Version: v, Variant: id.Variant}
		add(spelled.Filename())
		if legacy, ok := LegacyFilename(spelled); ok {
			add(legacy)
		}
	}
	return out
}
