package plugin

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// manifestEntry is the table form of a versions manifest entry:
//
//	[name]
//	version = "2.0"
//	variant = "eu"
//	exact = false
//	prereleases = true
type manifestEntry struct {
	Version     string `toml:"version"`
	Variant     string `toml:"variant,omitempty"`
	Exact       *bool  `toml:"exact,omitempty"`
	Prereleases bool   `toml:"prereleases,omitempty"`
}

// ReadManifestFile reads a versions manifest from disk.
func ReadManifestFile(path string) ([]VersionRequest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open versions file: %w", err)
	}
	defer f.Close()

	reqs, err := ParseManifest(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reqs, nil
}

// ParseManifest decodes a TOML versions manifest into requests, in the order
// the plugins appear in the document. A plain string value is a request
// constraint ("1.0.0", "2", "latest"); a table may set version, variant,
// exact (default true) and prereleases.
func ParseManifest(r io.Reader) ([]VersionRequest, error) {
	var raw map[string]toml.Primitive
	md, err := toml.NewDecoder(r).Decode(&raw)
	if err != nil {
		return nil, fmt.Errorf("%w: decode versions manifest: %v", ErrInvalidRequest, err)
	}

	var reqs []VersionRequest
	for _, key := range md.Keys() {
		if len(key) != 1 {
			continue
		}
		name := key[0]
		req, err := decodeManifestEntry(md, name, raw[name])
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

func decodeManifestEntry(md toml.MetaData, name string, prim toml.Primitive) (VersionRequest, error) {
	var constraint string
	if err := md.PrimitiveDecode(prim, &constraint); err == nil {
		return ParseRequest(name + constraintSeparator + constraint)
	}

	var entry manifestEntry
	if err := md.PrimitiveDecode(prim, &entry); err != nil {
		return VersionRequest{}, fmt.Errorf("%w: entry %q: expected a version string or a table: %v", ErrInvalidRequest, name, err)
	}
	// An empty version in a non-exact entry matches any version
	exact := entry.Exact == nil || *entry.Exact
	if exact && entry.Version == "" {
		return VersionRequest{}, fmt.Errorf("%w: entry %q: missing version", ErrInvalidRequest, name)
	}
	if exact {
		id, err := NewArchiveID(name, entry.Version, entry.Variant)
		if err != nil {
			return VersionRequest{}, fmt.Errorf("entry %q: %w", name, err)
		}
		return ExactRequest(id), nil
	}

	includePre := entry.Prereleases || strings.Contains(entry.Version, "-")
	req, err := LatestRequest(name, entry.Variant, entry.Version, includePre)
	if err != nil {
		return VersionRequest{}, fmt.Errorf("entry %q: %w", name, err)
	}
	return req, nil
}

// WriteManifest encodes requests as a versions manifest. Exact requests
// without a variant are written as plain strings. Latest-existing requests
// only make sense against a local store and cannot be written.
func WriteManifest(w io.Writer, reqs []VersionRequest) error {
	doc := make(map[string]any, len(reqs))
	for _, r := range reqs {
		if _, dup := doc[r.Name]; dup {
			return fmt.Errorf("%w: %s appears more than once", ErrInvalidRequest, r.Name)
		}
		switch r.Kind {
		case RequestExact:
			if r.Variant == "" {
				doc[r.Name] = r.Version.String()
			} else {
				doc[r.Name] = manifestEntry{Version: r.Version.String(), Variant: r.Variant}
			}
		case RequestLatest:
			exact := false
			doc[r.Name] = manifestEntry{
				Version:     r.Prefix,
				Variant:     r.Variant,
				Exact:       &exact,
				Prereleases: r.IncludePrereleases,
			}
		default:
			return fmt.Errorf("%w: %s cannot be written to a versions manifest", ErrInvalidRequest, r)
		}
	}
	if err := toml.NewEncoder(w).Encode(doc); err != nil {
		return fmt.Errorf("encode versions manifest: %w", err)
	}
	return nil
}
