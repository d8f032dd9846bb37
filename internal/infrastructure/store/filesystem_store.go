// Package store keeps plugin archives in a flat local directory, one file per
// (name, version, variant) key, named with the canonical archive filename.
package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"encapsia.io/cli/internal/application/ports"
	"encapsia.io/cli/internal/core/plugin"
)

const partialPattern = ".plugin-*.partial"

// FilesystemStore implements ports.ArchiveStore over a directory
type FilesystemStore struct {
	dir    string
	logger ports.LoggingGateway
}

// NewFilesystemStore creates a store rooted at dir. The directory is created on first write.
func NewFilesystemStore(dir string, logger ports.LoggingGateway) *FilesystemStore {
	return &FilesystemStore{dir: dir, logger: logger}
}

// Dir returns the directory backing the store
func (s *FilesystemStore) Dir() string {
	return s.dir
}

// ListAll returns every well-formed archive in the store, sorted by name,
// variant and version
func (s *FilesystemStore) ListAll() ([]ports.StoreEntry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin store %s: %w", s.dir, err)
	}

	seen := make(map[plugin.Key]bool)
	var entries []ports.StoreEntry
	for _, de := range dirEntries {
		if de.IsDir() || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		id, err := plugin.ParseFilename(de.Name())
		if err != nil {
			s.logger.Log(ports.LogLevelWarn, "Skipping file in plugin store", map[string]interface{}{
				"file":   de.Name(),
				"reason": err.Error(),
			})
			continue
		}
		if seen[id.Key()] {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// removed while listing
			continue
		}
		seen[id.Key()] = true
		entries = append(entries, entryFor(id, filepath.Join(s.dir, de.Name()), info))
	}

	sortEntries(entries)
	return entries, nil
}

// Has reports whether an archive with exactly this key is stored. It stats
// the names the key can be stored under and never reads archive content.
func (s *FilesystemStore) Has(id plugin.ArchiveID) (bool, error) {
	_, _, _, err := s.locate(id)
	if errors.Is(err, plugin.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Get returns the stored entry for id
func (s *FilesystemStore) Get(id plugin.ArchiveID) (ports.StoreEntry, error) {
	path, stored, info, err := s.locate(id)
	if err != nil {
		return ports.StoreEntry{}, err
	}
	return entryFor(stored, path, info), nil
}

// Latest returns the newest stored archive for name and variant
func (s *FilesystemStore) Latest(name, variant string, includePrereleases bool) (ports.StoreEntry, bool, error) {
	req, err := plugin.ExistingRequest(name, variant, includePrereleases)
	if err != nil {
		return ports.StoreEntry{}, false, err
	}
	return s.Find(req)
}

// Find returns the stored archive that satisfies req. Exact requests only
// stat the archive's paths; the other kinds list the store.
func (s *FilesystemStore) Find(req plugin.VersionRequest) (ports.StoreEntry, bool, error) {
	if id, ok := req.ArchiveID(); ok {
		entry, err := s.Get(id)
		if errors.Is(err, plugin.ErrNotFound) {
			return ports.StoreEntry{}, false, nil
		}
		return entry, err == nil, err
	}

	entries, err := s.ListAll()
	if err != nil {
		return ports.StoreEntry{}, false, err
	}
	ids := make([]plugin.ArchiveID, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	id, ok := req.Select(ids)
	if !ok {
		return ports.StoreEntry{}, false, nil
	}
	for _, e := range entries {
		if e.ID.Equal(id) {
			return e, true, nil
		}
	}
	return ports.StoreEntry{}, false, nil
}

// Add copies the archive into the store. Identical content already stored
// under the key is a no-op; different content fails with ErrDuplicateEntry.
func (s *FilesystemStore) Add(src io.Reader, id plugin.ArchiveID) (ports.StoreEntry, error) {
	tmpPath, digest, err := s.writePartial(src)
	if err != nil {
		return ports.StoreEntry{}, err
	}
	defer os.Remove(tmpPath)

	existingPath, existingID, existingInfo, err := s.locate(id)
	switch {
	case err == nil:
		existing, err := DigestFile(existingPath)
		if err != nil {
			return ports.StoreEntry{}, fmt.Errorf("failed to hash stored archive: %w", err)
		}
		if existing != digest {
			return ports.StoreEntry{}, fmt.Errorf("%w: %s already stored at %s", plugin.ErrDuplicateEntry, id, existingPath)
		}
		s.logger.Log(ports.LogLevelDebug, "Archive already stored with identical content", map[string]interface{}{
			"archive": id.Filename(),
		})
		return entryFor(existingID, existingPath, existingInfo), nil
	case !errors.Is(err, plugin.ErrNotFound):
		return ports.StoreEntry{}, err
	}

	return s.commit(tmpPath, id)
}

// Replace stores the archive, removing any entry with the same key first
func (s *FilesystemStore) Replace(src io.Reader, id plugin.ArchiveID) (ports.StoreEntry, error) {
	tmpPath, _, err := s.writePartial(src)
	if err != nil {
		return ports.StoreEntry{}, err
	}
	defer os.Remove(tmpPath)

	if err := s.Remove(id); err != nil && !errors.Is(err, plugin.ErrNotFound) {
		return ports.StoreEntry{}, err
	}
	return s.commit(tmpPath, id)
}

// Remove deletes every file holding the archive's key
func (s *FilesystemStore) Remove(id plugin.ArchiveID) error {
	paths, err := s.paths(id)
	if err != nil {
		return err
	}
	removed := false
	for _, path := range paths {
		err := os.Remove(path)
		switch {
		case err == nil:
			removed = true
		case !errors.Is(err, fs.ErrNotExist):
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	if !removed {
		return fmt.Errorf("%w: %s is not in %s", plugin.ErrNotFound, id, s.dir)
	}
	s.logger.Log(ports.LogLevelDebug, "Removed archive from store", map[string]interface{}{
		"archive": id.Filename(),
	})
	return nil
}

// paths lists every stored file holding the archive's key. Names are
// stat'ed in canonical-first order; keys that older builds could spell
// differently are matched by scanning the plugin's files as well.
func (s *FilesystemStore) paths(id plugin.ArchiveID) ([]string, error) {
	var found []string
	for _, name := range id.Filenames() {
		path := filepath.Join(s.dir, name)
		info, err := os.Stat(path)
		switch {
		case err == nil && info.Mode().IsRegular():
			found = append(found, path)
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
	}
	if len(found) > 0 || !id.Version.HasLegacyForms() {
		return found, nil
	}
	return s.scan(id)
}

// scan matches the plugin's files by key, catching spellings such as
// zero-padded legacy versions that Filenames does not list
func (s *FilesystemStore) scan(id plugin.ArchiveID) ([]string, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin store %s: %w", s.dir, err)
	}
	prefix := "plugin-" + id.Name + "-"
	var found []string
	for _, de := range dirEntries {
		if !de.Type().IsRegular() || !strings.HasPrefix(de.Name(), prefix) {
			continue
		}
		stored, err := plugin.ParseFilename(de.Name())
		if err == nil && stored.Key() == id.Key() {
			found = append(found, filepath.Join(s.dir, de.Name()))
		}
	}
	return found, nil
}

// locate returns the first stored file for id along with the id its filename spells
func (s *FilesystemStore) locate(id plugin.ArchiveID) (string, plugin.ArchiveID, fs.FileInfo, error) {
	paths, err := s.paths(id)
	if err != nil {
		return "", id, nil, err
	}
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if stored, err := plugin.ParseFilename(path); err == nil {
			return path, stored, info, nil
		}
		return path, id, info, nil
	}
	return "", id, nil, fmt.Errorf("%w: %s is not in %s", plugin.ErrNotFound, id, s.dir)
}

// writePartial streams src into a hidden temp file inside the store and
// hashes it on the way
func (s *FilesystemStore) writePartial(src io.Reader) (string, Digest, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create plugin store %s: %w", s.dir, err)
	}
	tmp, err := os.CreateTemp(s.dir, partialPattern)
	if err != nil {
		return "", "", fmt.Errorf("failed to create temp archive: %w", err)
	}
	tmpPath := tmp.Name()

	digest, _, err := DigestReader(io.TeeReader(src, tmp))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return "", "", fmt.Errorf("failed to write archive: %w", err)
	}
	return tmpPath, digest, nil
}

func (s *FilesystemStore) commit(tmpPath string, id plugin.ArchiveID) (ports.StoreEntry, error) {
	finalPath := filepath.Join(s.dir, id.Filename())
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return ports.StoreEntry{}, fmt.Errorf("failed to move archive into place: %w", err)
	}
	info, err := os.Stat(finalPath)
	if err != nil {
		return ports.StoreEntry{}, fmt.Errorf("failed to stat stored archive: %w", err)
	}
	s.logger.Log(ports.LogLevelDebug, "Stored archive", map[string]interface{}{
		"archive": id.Filename(),
		"size":    info.Size(),
	})
	return entryFor(id, finalPath, info), nil
}

func entryFor(id plugin.ArchiveID, path string, info fs.FileInfo) ports.StoreEntry {
	return ports.StoreEntry{ID: id, Path: path, Size: info.Size(), ModTime: info.ModTime()}
}

func sortEntries(entries []ports.StoreEntry) {
	slices.SortStableFunc(entries, func(a, b ports.StoreEntry) int {
		return a.ID.Compare(b.ID)
	})
}
