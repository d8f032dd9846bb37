package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"encapsia.io/cli/internal/application/ports"
	"encapsia.io/cli/internal/core/plugin"
	"encapsia.io/cli/internal/infrastructure/store"
)

// DirSource offers the archives in a local directory, or a single archive file
type DirSource struct {
	path   string
	logger ports.LoggingGateway
}

// NewDirSource creates a source over path
func NewDirSource(path string, logger ports.LoggingGateway) *DirSource {
	return &DirSource{path: path, logger: logger}
}

// Descriptor returns the configured path
func (s *DirSource) Descriptor() string {
	return s.path
}

// Search lists the archives of the named plugin. When two files hold the
// same key (a canonical and a legacy name) their digests are filled in so the
// resolver can tell whether they differ.
func (s *DirSource) Search(ctx context.Context, name string) ([]ports.Candidate, error) {
	info, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Log(ports.LogLevelWarn, "Upstream directory does not exist", map[string]interface{}{
			"path": s.path,
		})
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(s.path)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() {
				files = append(files, filepath.Join(s.path, e.Name()))
			}
		}
	} else {
		files = []string{s.path}
	}

	var candidates []ports.Candidate
	count := make(map[plugin.Key]int)
	for _, f := range files {
		id, err := plugin.ParseFilename(f)
		if err != nil || id.Name != name {
			continue
		}
		fi, err := os.Stat(f)
		if err != nil {
			continue
		}
		candidates = append(candidates, ports.Candidate{
			ID:       id,
			Source:   s.path,
			Location: f,
			Size:     fi.Size(),
		})
		count[id.Key()]++
	}

	for i, c := range candidates {
		if count[c.ID.Key()] < 2 {
			continue
		}
		d, err := store.DigestFile(c.Location)
		if err != nil {
			return nil, err
		}
		candidates[i].Digest = string(d)
	}
	return candidates, nil
}

// Open opens the candidate's file
func (s *DirSource) Open(ctx context.Context, c ports.Candidate) (io.ReadCloser, error) {
	f, err := os.Open(c.Location)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", c.Location, err)
	}
	return f, nil
}
