package upstream

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"encapsia.io/cli/internal/application/ports"
)

// SourceKind is the kind of location a source descriptor names
type SourceKind string

const (
	SourceDir SourceKind = "dir"
	SourceURL SourceKind = "url"
	SourceS3  SourceKind = "s3"
)

// KindOf classifies a descriptor: s3://bucket/prefix, an http(s) URL, or a
// local path (optionally file://).
func KindOf(descriptor string) SourceKind {
	switch {
	case strings.HasPrefix(descriptor, s3Scheme):
		return SourceS3
	case strings.HasPrefix(descriptor, "http://"), strings.HasPrefix(descriptor, "https://"):
		return SourceURL
	default:
		return SourceDir
	}
}

// SourceFactory turns descriptors into sources. The S3 client is created on
// first use so commands that never touch a bucket need no AWS settings.
type SourceFactory struct {
	HTTPClient *http.Client
	UserAgent  string
	S3Options  S3Options
	Logger     ports.LoggingGateway

	// NewS3 overrides how the S3 client is built. Tests use it to inject fakes.
	NewS3 func(S3Options) S3API

	s3Once   sync.Once
	s3Client S3API
}

// Parse creates the source a descriptor names
func (f *SourceFactory) Parse(descriptor string) (ports.UpstreamSource, error) {
	descriptor = strings.TrimSpace(descriptor)
	if descriptor == "" {
		return nil, fmt.Errorf("empty source descriptor")
	}

	switch KindOf(descriptor) {
	case SourceS3:
		return NewS3Source(descriptor, f.s3())
	case SourceURL:
		return NewURLSource(descriptor, f.HTTPClient, f.UserAgent)
	default:
		path := strings.TrimPrefix(descriptor, "file://")
		path, err := expandHome(path)
		if err != nil {
			return nil, err
		}
		return NewDirSource(path, f.Logger), nil
	}
}

// ParseAll creates sources for descriptors, keeping their order
func (f *SourceFactory) ParseAll(descriptors []string) ([]ports.UpstreamSource, error) {
	sources := make([]ports.UpstreamSource, 0, len(descriptors))
	for _, d := range descriptors {
		src, err := f.Parse(d)
		if err != nil {
			return nil, fmt.Errorf("invalid source %q: %w", d, err)
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func (f *SourceFactory) s3() S3API {
	f.s3Once.Do(func() {
		opts := S3OptionsFromEnv(f.S3Options)
		if f.NewS3 != nil {
			f.s3Client = f.NewS3(opts)
			return
		}
		f.s3Client = NewS3Client(opts)
	})
	return f.s3Client
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
