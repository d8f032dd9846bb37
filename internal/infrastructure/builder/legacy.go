package builder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"encapsia.io/cli/internal/application/ports"
)

// TreeDownloader copies every file below prefix into destDir
type TreeDownloader interface {
	DownloadTree(ctx context.Context, prefix, destDir string) (int, error)
}

// webappManifest is the plugin.toml written for a legacy webapp
type webappManifest struct {
	Name           string `toml:"name"`
	Description    string `toml:"description"`
	Version        string `toml:"version"`
	CreatedBy      string `toml:"created_by"`
	NTaskWorkers   int    `toml:"n_task_workers"`
	ResetOnInstall bool   `toml:"reset_on_install"`
}

// LegacyWebapps turns webapp builds stored as <name>/<version>/... file trees
// into plugin source directories
type LegacyWebapps struct {
	tree TreeDownloader
}

// NewLegacyWebapps creates a fetcher over tree
func NewLegacyWebapps(tree TreeDownloader) *LegacyWebapps {
	return &LegacyWebapps{tree: tree}
}

// FetchWebapp downloads the webapp into destDir/webfiles, moves its views and
// tasks up beside it and writes a plugin.toml
func (l *LegacyWebapps) FetchWebapp(ctx context.Context, name, version, createdBy, destDir string) error {
	webfiles := filepath.Join(destDir, "webfiles")
	n, err := l.tree.DownloadTree(ctx, path.Join(name, version), webfiles)
	if err != nil {
		return fmt.Errorf("failed to download webapp %s %s: %w", name, version, err)
	}
	if n == 0 {
		return fmt.Errorf("no files found for webapp %s %s", name, version)
	}

	for _, part := range []string{"views", "tasks"} {
		err := os.Rename(filepath.Join(webfiles, part), filepath.Join(destDir, part))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to move %s out of webfiles: %w", part, err)
		}
	}

	f, err := os.Create(filepath.Join(destDir, ManifestFile))
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", ManifestFile, err)
	}
	err = toml.NewEncoder(f).Encode(webappManifest{
		Name:           name,
		Description:    "Webapp " + name,
		Version:        version,
		CreatedBy:      createdBy,
		NTaskWorkers:   1,
		ResetOnInstall: true,
	})
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", ManifestFile, err)
	}
	return nil
}

var _ ports.WebappFetcher = (*LegacyWebapps)(nil)
