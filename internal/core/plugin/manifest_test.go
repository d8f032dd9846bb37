package plugin

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifest = `
first = "1.0.0"
second = {version = "2.0.0-1", variant = "not_quite"}

[third]
version = "2.0.0"
exact = false

[fourth]
version = "3"
exact = false
variant = "eu"
prereleases = true
`

func TestParseManifest(t *testing.T) {
	reqs, err := ParseManifest(strings.NewReader(sampleManifest))
	require.NoError(t, err)
	require.Len(t, reqs, 4)

	assert.Equal(t, "first", reqs[0].Name)
	assert.Equal(t, RequestExact, reqs[0].Kind)
	assert.Equal(t, "1.0.0", reqs[0].Version.String())

	assert.Equal(t, "second", reqs[1].Name)
	assert.Equal(t, RequestExact, reqs[1].Kind)
	assert.Equal(t, "2.0.0-1", reqs[1].Version.String())
	assert.Equal(t, "not_quite", reqs[1].Variant)

	assert.Equal(t, "third", reqs[2].Name)
	assert.Equal(t, RequestLatest, reqs[2].Kind)
	assert.Equal(t, "2.0.0", reqs[2].Prefix)
	assert.False(t, reqs[2].IncludePrereleases)

	assert.Equal(t, "fourth", reqs[3].Name)
	assert.Equal(t, RequestLatest, reqs[3].Kind)
	assert.Equal(t, "3", reqs[3].Prefix)
	assert.Equal(t, "eu", reqs[3].Variant)
	assert.True(t, reqs[3].IncludePrereleases)
}

func TestParseManifest_StringConstraints(t *testing.T) {
	reqs, err := ParseManifest(strings.NewReader(`
alpha = "latest"
beta = "2"
gamma = "latest-pre"
delta = "1.0-rc"
`))
	require.NoError(t, err)
	require.Len(t, reqs, 4)

	assert.Equal(t, RequestLatest, reqs[0].Kind)
	assert.Equal(t, "", reqs[0].Prefix)
	assert.Equal(t, "2", reqs[1].Prefix)
	assert.True(t, reqs[2].IncludePrereleases)
	assert.Equal(t, "1.0-rc", reqs[3].Prefix)
	assert.True(t, reqs[3].IncludePrereleases)
}

func TestParseManifest_DocumentOrder(t *testing.T) {
	reqs, err := ParseManifest(strings.NewReader("zeta = \"1.0.0\"\nalpha = \"1.0.0\"\nmid = \"1.0.0\"\n"))
	require.NoError(t, err)

	var names []string
	for _, r := range reqs {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, names)
}

func TestParseManifest_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
	}{
		{"not toml", "this is = = not toml"},
		{"bad name", `Foo = "1.0.0"`},
		{"bad version", `foo = "one"`},
		{"missing version", "[foo]\nvariant = \"eu\"\n"},
		{"bad exact version", "[foo]\nversion = \"2\"\n"},
		{"bad variant", "foo = {version = \"1.0.0\", variant = \"e.u\"}\n"},
		{"wrong type", "foo = 3\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest(strings.NewReader(tt.manifest))
			require.Error(t, err)
		})
	}
}

func TestWriteManifest(t *testing.T) {
	latest, err := LatestRequest("third", "", "2.0.0", false)
	require.NoError(t, err)
	reqs := []VersionRequest{
		ExactRequest(MustArchiveID("first", "1.0.0", "")),
		ExactRequest(MustArchiveID("second", "2.0.0-1", "not_quite")),
		latest,
	}

	var buf bytes.Buffer
	require.NoError(t, WriteManifest(&buf, reqs))

	again, err := ParseManifest(&buf)
	require.NoError(t, err)
	require.Len(t, again, 3)

	byName := make(map[string]VersionRequest)
	for _, r := range again {
		byName[r.Name] = r
	}
	for _, want := range reqs {
		got, ok := byName[want.Name]
		require.True(t, ok, want.Name)
		assert.Equal(t, want.String(), got.String())
	}
}

func TestWriteManifest_Rejects(t *testing.T) {
	existing, err := ExistingRequest("foo", "", false)
	require.NoError(t, err)
	assert.ErrorIs(t, WriteManifest(&bytes.Buffer{}, []VersionRequest{existing}), ErrInvalidRequest)

	dup := []VersionRequest{
		ExactRequest(MustArchiveID("foo", "1.0.0", "")),
		ExactRequest(MustArchiveID("foo", "1.0.0", "eu")),
	}
	assert.ErrorIs(t, WriteManifest(&bytes.Buffer{}, dup), ErrInvalidRequest)
}

func TestReadManifestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "versions.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleManifest), 0o644))

	reqs, err := ReadManifestFile(path)
	require.NoError(t, err)
	assert.Len(t, reqs, 4)

	_, err = ReadManifestFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestWriteManifest_LatestWithoutPrefixRoundTrips(t *testing.T) {
	reqs := mustParseRequests(t, "foo", "bar+eu@latest-pre")

	var buf bytes.Buffer
	require.NoError(t, WriteManifest(&buf, reqs))

	again, err := ParseManifest(&buf)
	require.NoError(t, err)
	require.Len(t, again, 2)
	byName := map[string]VersionRequest{again[0].Name: again[0], again[1].Name: again[1]}
	assert.Equal(t, "foo@latest", byName["foo"].String())
	assert.Equal(t, "bar+eu@latest-pre", byName["bar"].String())

	_, err = ParseManifest(strings.NewReader("[foo]\nversion = \"\"\n"))
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func mustParseRequests(t *testing.T, specs ...string) []VersionRequest {
	t.Helper()
	reqs := make([]VersionRequest, len(specs))
	for i, spec := range specs {
		r, err := ParseRequest(spec)
		require.NoError(t, err)
		reqs[i] = r
	}
	return reqs
}
