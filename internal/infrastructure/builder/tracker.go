package builder

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"encapsia.io/cli/internal/application/ports"
)

// TrackerFile holds the last upload time of each plugin part, relative to
// the plugin source directory
var TrackerFile = filepath.Join(".encapsia", "last_uploaded_plugin_parts.toml")

// FileTracker implements ports.PartTracker with a TOML file inside the
// plugin source directory
type FileTracker struct{}

// NewFileTracker creates a tracker
func NewFileTracker() *FileTracker {
	return &FileTracker{}
}

// ModifiedParts compares the newest file of each part with its last upload
func (t *FileTracker) ModifiedParts(srcDir string, reset bool) ([]string, error) {
	uploaded := map[string]time.Time{}
	if !reset {
		var err error
		if uploaded, err = t.load(srcDir); err != nil {
			return nil, err
		}
	}

	var modified []string
	for _, part := range PluginDirs {
		last, err := newestModTime(filepath.Join(srcDir, part))
		if err != nil {
			return nil, err
		}
		if last.IsZero() {
			continue
		}
		if at, ok := uploaded[part]; !ok || last.After(at) {
			modified = append(modified, part)
		}
	}
	return modified, nil
}

// MarkUploaded stores at as the upload time of parts
func (t *FileTracker) MarkUploaded(srcDir string, parts []string, at time.Time) error {
	uploaded, err := t.load(srcDir)
	if err != nil {
		return err
	}
	for _, part := range parts {
		uploaded[part] = at.UTC()
	}

	path := filepath.Join(srcDir, TrackerFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := toml.NewEncoder(f).Encode(uploaded); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func (t *FileTracker) load(srcDir string) (map[string]time.Time, error) {
	uploaded := map[string]time.Time{}
	path := filepath.Join(srcDir, TrackerFile)
	if _, err := toml.DecodeFile(path, &uploaded); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return uploaded, nil
}

// newestModTime returns the modification time of the newest regular file
// under dir, or the zero time when there is none
func newestModTime(dir string) (time.Time, error) {
	var newest time.Time
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	return newest, nil
}

var _ ports.PartTracker = (*FileTracker)(nil)
