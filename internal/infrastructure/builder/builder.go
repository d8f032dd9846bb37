package builder

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/klauspost/compress/gzip"

	"encapsia.io/cli/internal/application/ports"
	"encapsia.io/cli/internal/core/plugin"
)

// ManifestFile is the plugin manifest every source directory carries
const ManifestFile = "plugin.toml"

// PluginDirs are the source directories packed into an archive, when present
var PluginDirs = []string{"webfiles", "views", "tasks", "wheels", "schedules"}

const variantTagPrefix = "variant="

// Manifest is the subset of plugin.toml the builder reads
type Manifest struct {
	Name    string   `toml:"name"`
	Version string   `toml:"version"`
	Tags    []string `toml:"tags"`
}

// TarballBuilder packs plugin source directories into gzipped tarballs
type TarballBuilder struct {
	level int
}

// NewTarballBuilder creates a new builder using the default gzip level
func NewTarballBuilder() *TarballBuilder {
	return &TarballBuilder{level: gzip.DefaultCompression}
}

// ReadManifest reads plugin.toml from srcDir
func ReadManifest(srcDir string) (Manifest, error) {
	var m Manifest
	_, err := toml.DecodeFile(filepath.Join(srcDir, ManifestFile), &m)
	if errors.Is(err, fs.ErrNotExist) {
		return Manifest{}, fmt.Errorf("%s is not a plugin directory: no %s", srcDir, ManifestFile)
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to read %s: %w", ManifestFile, err)
	}
	return m, nil
}

// VariantFromTags returns the value of the single variant= tag, or "" when there is none
func VariantFromTags(tags []string) (string, error) {
	var variants []string
	for _, tag := range tags {
		if v, ok := strings.CutPrefix(tag, variantTagPrefix); ok {
			variants = append(variants, v)
		}
	}
	switch len(variants) {
	case 0:
		return "", nil
	case 1:
		return variants[0], nil
	default:
		return "", fmt.Errorf("%w: %s", plugin.ErrTooManyVariantTags, strings.Join(variants, ", "))
	}
}

// Inspect reads the archive identity a source directory would build
func (b *TarballBuilder) Inspect(srcDir string) (plugin.ArchiveID, error) {
	m, err := ReadManifest(srcDir)
	if err != nil {
		return plugin.ArchiveID{}, err
	}
	variant, err := VariantFromTags(m.Tags)
	if err != nil {
		return plugin.ArchiveID{}, fmt.Errorf("invalid tags in %s: %w", filepath.Join(srcDir, ManifestFile), err)
	}
	id, err := plugin.NewArchiveID(m.Name, m.Version, variant)
	if err != nil {
		return plugin.ArchiveID{}, fmt.Errorf("invalid %s: %w", filepath.Join(srcDir, ManifestFile), err)
	}
	return id, nil
}

// Pack writes the tar.gz archive for srcDir to w. Entries sit under a
// plugin-<name>-<version> directory.
func (b *TarballBuilder) Pack(srcDir string, id plugin.ArchiveID, w io.Writer) error {
	return b.PackParts(srcDir, id, PluginDirs, w)
}

// PackParts writes plugin.toml and the named plugin directories of srcDir
// to w as a tar.gz. Missing directories are skipped.
func (b *TarballBuilder) PackParts(srcDir string, id plugin.ArchiveID, parts []string, w io.Writer) error {
	for _, part := range parts {
		if !slices.Contains(PluginDirs, part) {
			return fmt.Errorf("%q is not a plugin directory (expected one of %s)", part, strings.Join(PluginDirs, ", "))
		}
	}

	gz, err := gzip.NewWriterLevel(w, b.level)
	if err != nil {
		return fmt.Errorf("failed to create gzip writer: %w", err)
	}
	tw := tar.NewWriter(gz)
	root := fmt.Sprintf("plugin-%s-%s", id.Name, id.Version)

	if err := addFile(tw, filepath.Join(srcDir, ManifestFile), path.Join(root, ManifestFile)); err != nil {
		return err
	}
	for _, dir := range parts {
		if err := addTree(tw, filepath.Join(srcDir, dir), path.Join(root, dir)); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finish tar stream: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return nil
}

// addTree adds dir recursively as name. A missing dir is skipped.
func addTree(tw *tar.Writer, dir, name string) error {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		entryName := path.Join(name, filepath.ToSlash(rel))

		switch {
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return err
			}
			hdr, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			hdr.Name = entryName + "/"
			return tw.WriteHeader(hdr)
		case d.Type().IsRegular():
			return addFile(tw, p, entryName)
		default:
			// Symlinks and special files are not part of a plugin
			return nil
		}
	})
}

func addFile(tw *tar.Writer, src, name string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("failed to build tar header for %s: %w", src, err)
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write tar header for %s: %w", src, err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("failed to add %s: %w", src, err)
	}
	return nil
}

var _ ports.ArchiveBuilder = (*TarballBuilder)(nil)
