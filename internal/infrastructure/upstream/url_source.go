package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"

	"encapsia.io/cli/internal/application/ports"
	"encapsia.io/cli/internal/core/plugin"
)

// URLSource offers the single archive at a URL. The archive id is read from
// the last path segment.
type URLSource struct {
	rawURL     string
	id         plugin.ArchiveID
	httpClient *http.Client
	userAgent  string
}

// NewURLSource creates a source for the archive at rawURL
func NewURLSource(rawURL string, httpClient *http.Client, userAgent string) (*URLSource, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid source URL %q: %w", rawURL, err)
	}
	id, err := plugin.ParseFilename(path.Base(u.Path))
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &URLSource{rawURL: rawURL, id: id, httpClient: httpClient, userAgent: userAgent}, nil
}

// Descriptor returns the URL
func (s *URLSource) Descriptor() string {
	return s.rawURL
}

// Search returns the archive when it is the named plugin. No request is made.
func (s *URLSource) Search(ctx context.Context, name string) ([]ports.Candidate, error) {
	if s.id.Name != name {
		return nil, nil
	}
	return []ports.Candidate{{ID: s.id, Source: s.rawURL, Location: s.rawURL}}, nil
}

// Open downloads the archive
func (s *URLSource) Open(ctx context.Context, c ports.Candidate) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Location, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", plugin.ErrNotFound, c.Location)
		}
		return nil, fmt.Errorf("download of %s failed with status %d", c.Location, resp.StatusCode)
	}
	return resp.Body, nil
}
