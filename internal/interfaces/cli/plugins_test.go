package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"encapsia.io/cli/internal/application/ports"
	"encapsia.io/cli/internal/core/plugin"
)

func storeFiles(t *testing.T, b *fakeBackend) []string {
	t.Helper()
	entries, err := b.store.ListAll()
	require.NoError(t, err)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = filepath.Base(e.Path)
	}
	return names
}

func addToStore(t *testing.T, b *fakeBackend, filenames ...string) {
	t.Helper()
	for _, name := range filenames {
		id, err := plugin.ParseFilename(name)
		require.NoError(t, err)
		_, err = b.store.Add(strings.NewReader("archive "+name), id)
		require.NoError(t, err)
	}
}

func TestPluginsFetch_FetchesThenFinds(t *testing.T) {
	b := newFakeBackend(t)
	src := upstreamDir(t, "plugin-foo-1.0.0.tar.gz", "plugin-foo-1.1.0.tar.gz", "plugin-foo-2.0.0-rc1.tar.gz", "plugin-bar-2.0.0.tar.gz")

	out, errOut, err := runCLI(t, b, "--source", src, "plugins", "fetch", "foo", "bar@2")
	require.NoError(t, err)
	assert.Contains(t, out, "Fetched: foo@latest (plugin-foo-1.1.0.tar.gz from "+src+")")
	assert.Contains(t, out, "Fetched: bar@2 (plugin-bar-2.0.0.tar.gz")
	assert.Contains(t, errOut, "2 fetched")
	assert.Equal(t, []string{"plugin-bar-2.0.0.tar.gz", "plugin-foo-1.1.0.tar.gz"}, storeFiles(t, b))

	out, errOut, err = runCLI(t, b, "--source", src, "plugins", "fetch", "foo", "bar@2")
	require.NoError(t, err)
	assert.Contains(t, out, "Found: foo@latest (plugin-foo-1.1.0.tar.gz)")
	assert.Contains(t, errOut, "2 satisfied")
}

func TestPluginsFetch_Prerelease(t *testing.T) {
	b := newFakeBackend(t)
	src := upstreamDir(t, "plugin-foo-1.1.0.tar.gz", "plugin-foo-2.0.0-rc1.tar.gz")

	_, _, err := runCLI(t, b, "--source", src, "plugins", "fetch", "foo@latest-pre")
	require.NoError(t, err)
	assert.Equal(t, []string{"plugin-foo-2.0.0-rc1.tar.gz"}, storeFiles(t, b))
}

func TestPluginsFetch_Policies(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantOut    []string
		wantStored []string
	}{
		{
			name:       "abort on first error",
			args:       []string{"missing", "foo"},
			wantOut:    []string{"Failed: missing@latest", "Skipped: foo@latest"},
			wantStored: []string{},
		},
		{
			name:       "best effort",
			args:       []string{"--best-effort", "missing", "foo"},
			wantOut:    []string{"Failed: missing@latest", "Fetched: foo@latest"},
			wantStored: []string{"plugin-foo-1.0.0.tar.gz"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newFakeBackend(t)
			src := upstreamDir(t, "plugin-foo-1.0.0.tar.gz")

			args := append([]string{"--source", src, "plugins", "fetch"}, tt.args...)
			out, _, err := runCLI(t, b, args...)
			require.Error(t, err)
			assert.ErrorIs(t, err, plugin.ErrNotFound)
			for _, want := range tt.wantOut {
				assert.Contains(t, out, want)
			}
			assert.ElementsMatch(t, tt.wantStored, storeFiles(t, b))
		})
	}
}

func TestPluginsFetch_VersionsFile(t *testing.T) {
	b := newFakeBackend(t)
	src := upstreamDir(t, "plugin-foo-1.0.0.tar.gz", "plugin-foo-1.1.0.tar.gz", "plugin-bar-3.0.0+eu.tar.gz")
	versions := filepath.Join(t.TempDir(), "versions.toml")
	require.NoError(t, os.WriteFile(versions, []byte("foo = \"1.0.0\"\nbar = {version = \"3.0.0\", variant = \"eu\"}\n"), 0o644))

	_, _, err := runCLI(t, b, "--source", src, "plugins", "fetch", "--versions", versions)
	require.NoError(t, err)
	assert.Equal(t, []string{"plugin-bar-3.0.0+eu.tar.gz", "plugin-foo-1.0.0.tar.gz"}, storeFiles(t, b))
}

func TestPluginsFetch_Errors(t *testing.T) {
	b := newFakeBackend(t)

	_, _, err := runCLI(t, b, "plugins", "fetch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no plugins requested")

	_, _, err = runCLI(t, b, "plugins", "fetch", "Not-A-Name")
	assert.ErrorIs(t, err, plugin.ErrInvalidRequest)

	_, errOut, err := runCLI(t, b, "plugins", "fetch", "foo")
	assert.ErrorIs(t, err, plugin.ErrNotFound)
	assert.Contains(t, errOut, "No upstream sources configured")
}

func TestPluginsFetch_Existing(t *testing.T) {
	b := newFakeBackend(t)
	src := upstreamDir(t, "plugin-foo-2.0.0.tar.gz")
	addToStore(t, b, "plugin-foo-1.0.0.tar.gz")

	out, _, err := runCLI(t, b, "--source", src, "plugins", "fetch", "foo@existing")
	require.NoError(t, err)
	assert.Contains(t, out, "Found: foo@existing (plugin-foo-1.0.0.tar.gz)")

	_, _, err = runCLI(t, b, "--source", src, "plugins", "fetch", "bar@existing")
	assert.ErrorIs(t, err, plugin.ErrNotFound)
}

func TestPluginsInstall(t *testing.T) {
	b := newFakeBackend(t)
	b.server = &MockServerAPI{}
	src := upstreamDir(t, "plugin-foo-1.0.0.tar.gz", "plugin-bar-2.0.0.tar.gz")

	b.server.On("InstallPlugin", mock.Anything, filepath.Join(b.cfg.PluginsDir, "plugin-foo-1.0.0.tar.gz")).
		Return(&ports.TaskResult{TaskID: "t1", Status: ports.TaskStatusOK}, nil).Once()
	b.server.On("InstallPlugin", mock.Anything, filepath.Join(b.cfg.PluginsDir, "plugin-bar-2.0.0.tar.gz")).
		Return(&ports.TaskResult{TaskID: "t2", Status: ports.TaskStatusOK}, nil).Once()

	out, errOut, err := runCLI(t, b, "--source", src, "plugins", "install", "foo", "bar")
	require.NoError(t, err)
	assert.Contains(t, out, "Installed: foo@1.0.0")
	assert.Contains(t, out, "Installed: bar@2.0.0")
	assert.Contains(t, errOut, "2 installed")
	b.server.AssertExpectations(t)
}

func TestPluginsInstall_NeedsCredentialsBeforeFetching(t *testing.T) {
	b := newFakeBackend(t)
	src := upstreamDir(t, "plugin-foo-1.0.0.tar.gz")

	_, _, err := runCLI(t, b, "--source", src, "plugins", "install", "foo")
	assert.ErrorIs(t, err, errNoCredentials)
	assert.Empty(t, storeFiles(t, b))
}

func TestPluginsInstall_FetchFailureStopsInstall(t *testing.T) {
	b := newFakeBackend(t)
	b.server = &MockServerAPI{}
	src := upstreamDir(t, "plugin-foo-1.0.0.tar.gz")

	_, _, err := runCLI(t, b, "--source", src, "plugins", "install", "foo", "missing")
	assert.ErrorIs(t, err, plugin.ErrNotFound)
	b.server.AssertNotCalled(t, "InstallPlugin", mock.Anything, mock.Anything)
}

func TestPluginsInstall_BestEffortFetchInstallsTheRest(t *testing.T) {
	b := newFakeBackend(t)
	b.server = &MockServerAPI{}
	src := upstreamDir(t, "plugin-foo-1.0.0.tar.gz")
	b.server.On("InstallPlugin", mock.Anything, mock.Anything).
		Return(&ports.TaskResult{TaskID: "t1", Status: ports.TaskStatusOK}, nil).Once()

	out, _, err := runCLI(t, b, "--source", src, "plugins", "install", "--best-effort", "missing", "foo")
	assert.ErrorIs(t, err, plugin.ErrNotFound)
	assert.Contains(t, out, "Installed: foo@1.0.0")
	b.server.AssertExpectations(t)
}

func TestPluginsInstall_FailedTaskShowsOutput(t *testing.T) {
	b := newFakeBackend(t)
	b.server = &MockServerAPI{}
	src := upstreamDir(t, "plugin-foo-1.0.0.tar.gz")
	b.server.On("InstallPlugin", mock.Anything, mock.Anything).
		Return(&ports.TaskResult{TaskID: "t9", Status: ports.TaskStatusFailed, Output: "bad manifest"}, nil)

	out, errOut, err := runCLI(t, b, "--source", src, "plugins", "install", "foo")
	require.Error(t, err)
	assert.Contains(t, out, "Failed: foo@1.0.0")
	assert.Contains(t, errOut, "foo@1.0.0: bad manifest")
}

func TestPluginsUninstall(t *testing.T) {
	b := newFakeBackend(t)
	b.server = &MockServerAPI{}
	b.server.On("UninstallPlugin", mock.Anything, "foo").
		Return(&ports.TaskResult{TaskID: "t1", Status: ports.TaskStatusOK}, nil)

	out, _, err := runCLI(t, b, "plugins", "uninstall", "foo")
	require.NoError(t, err)
	assert.Contains(t, out, "Uninstalled: foo")

	_, _, err = runCLI(t, b, "plugins", "uninstall", "Bad-Name")
	assert.ErrorIs(t, err, plugin.ErrInvalidRequest)

	_, _, err = runCLI(t, b, "plugins", "uninstall")
	assert.Error(t, err)
}

func TestPluginsList(t *testing.T) {
	b := newFakeBackend(t)

	_, errOut, err := runCLI(t, b, "plugins", "ls")
	require.NoError(t, err)
	assert.Contains(t, errOut, "No plugins in "+b.cfg.PluginsDir)

	addToStore(t, b, "plugin-foo-1.0.0.tar.gz", "plugin-foo-1.1.0.tar.gz", "plugin-foo-2.0.0-rc1.tar.gz", "plugin-foo-1.0.0+eu.tar.gz")

	tests := []struct {
		name    string
		args    []string
		want    []string
		notWant []string
	}{
		{
			name: "all",
			args: nil,
			want: []string{"NAME", "plugin-foo-1.0.0.tar.gz", "plugin-foo-1.1.0.tar.gz", "plugin-foo-2.0.0-rc1.tar.gz", "plugin-foo-1.0.0+eu.tar.gz"},
		},
		{
			name:    "latest",
			args:    []string{"--latest"},
			want:    []string{"plugin-foo-1.1.0.tar.gz", "plugin-foo-1.0.0+eu.tar.gz"},
			notWant: []string{"plugin-foo-1.0.0.tar.gz", "rc1"},
		},
		{
			name:    "latest with prereleases",
			args:    []string{"--latest", "--prereleases"},
			want:    []string{"plugin-foo-2.0.0-rc1.tar.gz"},
			notWant: []string{"plugin-foo-1.1.0.tar.gz"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := runCLI(t, b, append([]string{"plugins", "ls"}, tt.args...)...)
			require.NoError(t, err)
			for _, want := range tt.want {
				assert.Contains(t, out, want)
			}
			for _, notWant := range tt.notWant {
				assert.NotContains(t, out, notWant)
			}
		})
	}
}

func TestPluginsRemove(t *testing.T) {
	b := newFakeBackend(t)
	addToStore(t, b, "plugin-foo-1.0.0.tar.gz", "plugin-foo-1.1.0.tar.gz", "plugin-bar-2.0.0+eu.tar.gz")

	out, _, err := runCLI(t, b, "plugins", "rm", "foo@1.0.0", "/somewhere/plugin-bar-2.0.0+eu.tar.gz")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed: foo@1.0.0")
	assert.Contains(t, out, "Removed: bar+eu@2.0.0")
	assert.Equal(t, []string{"plugin-foo-1.1.0.tar.gz"}, storeFiles(t, b))

	_, _, err = runCLI(t, b, "plugins", "rm", "foo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not name one archive")

	_, _, err = runCLI(t, b, "plugins", "rm", "foo@9.9.9")
	assert.ErrorIs(t, err, plugin.ErrNotFound)
}

func TestPluginsAdd(t *testing.T) {
	b := newFakeBackend(t)
	dir := upstreamDir(t, "plugin-foo-1.2.0.tar.gz", "plugin-foo-1.3.0.tar.gz", "notes.txt")
	archive := filepath.Join(dir, "plugin-foo-1.2.0.tar.gz")

	out, _, err := runCLI(t, b, "plugins", "add", archive)
	require.NoError(t, err)
	assert.Contains(t, out, "Fetched: foo@1.2.0")
	assert.Equal(t, []string{"plugin-foo-1.2.0.tar.gz"}, storeFiles(t, b))

	out, _, err = runCLI(t, b, "plugins", "add", archive)
	require.NoError(t, err)
	assert.Contains(t, out, "Found: foo@1.2.0")

	_, _, err = runCLI(t, b, "plugins", "add", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is a directory")

	_, _, err = runCLI(t, b, "plugins", "add", filepath.Join(dir, "notes.txt"))
	assert.ErrorIs(t, err, plugin.ErrMalformedArchiveName)

	_, _, err = runCLI(t, b, "plugins", "add", filepath.Join(dir, "plugin-foo-9.0.0.tar.gz"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPluginsBuild(t *testing.T) {
	b := newFakeBackend(t)
	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "plugin.toml"), []byte("name = \"example\"\nversion = \"1.0.0\"\ntags = [\"variant=eu\"]\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(srcDir, "views"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "views", "v.sql"), []byte("select 1;"), 0o644))

	out, _, err := runCLI(t, b, "plugins", "build", srcDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Built: "+srcDir+" (plugin-example-1.0.0+eu.tar.gz)")
	assert.Equal(t, []string{"plugin-example-1.0.0+eu.tar.gz"}, storeFiles(t, b))

	_, _, err = runCLI(t, b, "plugins", "build", "--force", srcDir)
	require.NoError(t, err)

	_, _, err = runCLI(t, b, "plugins", "build", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a plugin directory")
}

func TestPluginsFreeze(t *testing.T) {
	b := newFakeBackend(t)
	addToStore(t, b, "plugin-foo-1.0.0.tar.gz", "plugin-foo-1.1.0.tar.gz", "plugin-foo-1.0.0+eu.tar.gz", "plugin-bar-0.1.0.tar.gz")

	out, errOut, err := runCLI(t, b, "plugins", "freeze")
	require.NoError(t, err)
	assert.Contains(t, errOut, "Not frozen: foo+eu@1.0.0")

	reqs, err := plugin.ParseManifest(strings.NewReader(out))
	require.NoError(t, err)
	got := make([]string, len(reqs))
	for i, r := range reqs {
		got[i] = r.String()
	}
	assert.ElementsMatch(t, []string{"foo@1.1.0", "bar@0.1.0"}, got)

	path := filepath.Join(t.TempDir(), "versions.toml")
	_, errOut, err = runCLI(t, b, "plugins", "freeze", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, errOut, "Wrote 2 plugins to "+path)

	fromFile, err := plugin.ReadManifestFile(path)
	require.NoError(t, err)
	assert.Len(t, fromFile, 2)
}

func TestPluginsInfo(t *testing.T) {
	tests := []struct {
		name   string
		result *ports.TaskResult
		want   string
	}{
		{
			name:   "task output",
			result: &ports.TaskResult{Status: ports.TaskStatusOK, Output: "launch 1.0.0\n"},
			want:   "launch 1.0.0",
		},
		{
			name:   "structured result",
			result: &ports.TaskResult{Status: ports.TaskStatusOK, Result: []byte(`["launch","dashboard"]`)},
			want:   "  \"dashboard\"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newFakeBackend(t)
			b.server = &MockServerAPI{}
			b.server.On("ListNamespaces", mock.Anything).Return(tt.result, nil)

			out, errOut, err := runCLI(t, b, "plugins", "status")
			require.NoError(t, err)
			assert.Contains(t, out, tt.want)
			assert.Contains(t, errOut, "Fetching list of namespaces")
		})
	}
}

func TestPluginsDevNamespaces(t *testing.T) {
	b := newFakeBackend(t)
	b.server = &MockServerAPI{}
	b.server.On("CreateNamespace", mock.Anything, "sandbox", 3).
		Return(&ports.TaskResult{Status: ports.TaskStatusOK, Output: "created"}, nil)
	b.server.On("CreateNamespace", mock.Anything, "other", 1).
		Return(&ports.TaskResult{Status: ports.TaskStatusOK}, nil)
	b.server.On("DestroyNamespace", mock.Anything, "sandbox").
		Return(&ports.TaskResult{Status: ports.TaskStatusFailed, Output: "no such namespace"}, assert.AnError)

	out, _, err := runCLI(t, b, "plugins", "dev-create-namespace", "sandbox", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "created")

	_, _, err = runCLI(t, b, "plugins", "dev-create-namespace", "other")
	require.NoError(t, err)

	_, _, err = runCLI(t, b, "plugins", "dev-create-namespace", "sandbox", "zero")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "N_TASK_WORKERS")

	_, errOut, err := runCLI(t, b, "plugins", "dev-destroy-namespace", "sandbox")
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, errOut, "no such namespace")

	b.server.AssertExpectations(t)
}

func TestParseArchiveIDs(t *testing.T) {
	ids, err := parseArchiveIDs([]string{"foo@1.0.0", "foo+eu@2.0.0-1", "dir/plugin-bar-1.0.0.tar.gz"})
	require.NoError(t, err)
	require.Len(t, ids, 3)
	assert.Equal(t, "foo+eu@2.0.0-1", ids[1].String())
	assert.Equal(t, "bar@1.0.0", ids[2].String())

	_, err = parseArchiveIDs([]string{"foo@latest"})
	assert.ErrorIs(t, err, plugin.ErrInvalidRequest)
}

func TestSplitArchiveLocation(t *testing.T) {
	tests := []struct {
		arg            string
		wantDescriptor string
		wantID         string
	}{
		{"https://example.com/files/plugin-foo-1.0.0.tar.gz?x=1", "https://example.com/files/plugin-foo-1.0.0.tar.gz?x=1", "foo@1.0.0"},
		{"s3://bucket/prefix/plugin-foo-1.0.0+eu.tar.gz", "s3://bucket/prefix/", "foo+eu@1.0.0"},
		{"s3://bucket/plugin-foo-1.0.0.tar.gz", "s3://bucket/", "foo@1.0.0"},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			descriptor, id, err := splitArchiveLocation(tt.arg)
			require.NoError(t, err)
			assert.Equal(t, tt.wantDescriptor, descriptor)
			assert.Equal(t, tt.wantID, id.String())
		})
	}
}
