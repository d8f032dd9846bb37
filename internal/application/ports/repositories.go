package ports

import (
	"context"
	"io"
	"time"

	"encapsia.io/cli/internal/core/plugin"
)

// StoreEntry is an archive held in the local store
type StoreEntry struct {
	ID      plugin.ArchiveID `json:"id"`
	Path    string           `json:"path"`
	Size    int64            `json:"size"`
	ModTime time.Time        `json:"mod_time"`
}

// ArchiveStore defines the interface for the local plugin archive store
type ArchiveStore interface {
	// Dir returns the directory backing the store
	Dir() string

	// ListAll returns every well-formed archive in the store. Malformed
	// filenames are skipped with a warning.
	ListAll() ([]StoreEntry, error)

	// Has reports whether an archive with exactly this key is stored
	Has(id plugin.ArchiveID) (bool, error)

	// Get returns the stored entry for id or an error wrapping plugin.ErrNotFound
	Get(id plugin.ArchiveID) (StoreEntry, error)

	// Latest returns the newest stored archive for name and variant
	Latest(name, variant string, includePrereleases bool) (StoreEntry, bool, error)

	// Find returns the stored archive that satisfies req, if any
	Find(req plugin.VersionRequest) (StoreEntry, bool, error)

	// Add copies the archive into the store under its canonical filename.
	// Re-adding identical content is a no-op; different content for an
	// existing key fails with plugin.ErrDuplicateEntry.
	Add(src io.Reader, id plugin.ArchiveID) (StoreEntry, error)

	// Replace stores the archive, discarding any existing entry with the same key
	Replace(src io.Reader, id plugin.ArchiveID) (StoreEntry, error)

	// Remove deletes the archive or fails with plugin.ErrNotFound
	Remove(id plugin.ArchiveID) error
}

// Candidate is an archive offered by an upstream source
type Candidate struct {
	ID plugin.ArchiveID `json:"id"`

	// Source is the descriptor of the source offering the archive
	Source string `json:"source"`

	// Location is where the source reads the archive from: a path, URL or object key
	Location string `json:"location"`

	Size int64 `json:"size,omitempty"`

	// Digest identifies the content when the source knows it without reading
	// the archive (an S3 ETag, for example). Empty when unknown.
	Digest string `json:"digest,omitempty"`
}

// UpstreamSource defines a searchable location plugin archives can be fetched from
type UpstreamSource interface {
	// Descriptor returns the configuration string of the source
	Descriptor() string

	// Search returns every archive of the named plugin the source offers
	Search(ctx context.Context, name string) ([]Candidate, error)

	// Open streams the bytes of a candidate previously returned by Search
	Open(ctx context.Context, c Candidate) (io.ReadCloser, error)
}

// ArchiveResolver resolves version requests against the upstream sources
type ArchiveResolver interface {
	// Resolve picks the candidate satisfying req. It fails with an error
	// wrapping plugin.ErrNotFound or plugin.ErrAmbiguous.
	Resolve(ctx context.Context, req plugin.VersionRequest) (Candidate, error)

	// Fetch streams the bytes of a resolved candidate
	Fetch(ctx context.Context, c Candidate) (io.ReadCloser, error)
}

// ArchiveBuilder packs plugin source directories into archives
type ArchiveBuilder interface {
	// Inspect reads the plugin definition in srcDir and returns the id of the archive it builds
	Inspect(srcDir string) (plugin.ArchiveID, error)

	// Pack writes the gzipped tar of srcDir to w
	Pack(srcDir string, id plugin.ArchiveID, w io.Writer) error

	// PackParts is like Pack but only includes the named plugin directories
	PackParts(srcDir string, id plugin.ArchiveID, parts []string, w io.Writer) error
}

// PartTracker remembers when each part of a plugin source directory was last
// sent to a development server
type PartTracker interface {
	// ModifiedParts returns the parts changed since they were last uploaded,
	// in a fixed order. With reset every non-empty part counts as changed.
	ModifiedParts(srcDir string, reset bool) ([]string, error)

	// MarkUploaded records parts as uploaded at the given time
	MarkUploaded(srcDir string, parts []string, at time.Time) error
}

// WebappFetcher lays out a legacy webapp build as a plugin source directory
type WebappFetcher interface {
	FetchWebapp(ctx context.Context, name, version, createdBy, destDir string) error
}
