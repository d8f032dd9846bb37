package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"encapsia.io/cli/internal/application/ports"
	"encapsia.io/cli/internal/infrastructure/builder"
	"encapsia.io/cli/internal/infrastructure/config"
	"encapsia.io/cli/internal/infrastructure/logging"
	"encapsia.io/cli/internal/infrastructure/store"
	"encapsia.io/cli/internal/infrastructure/upstream"
)

// Mock implementations

type MockServerAPI struct {
	mock.Mock
}

func (m *MockServerAPI) UploadBlob(ctx context.Context, path string) (string, error) {
	args := m.Called(ctx, path)
	return args.String(0), args.Error(1)
}

func (m *MockServerAPI) RunTask(ctx context.Context, namespace, function string, params map[string]interface{}) (*ports.TaskResult, error) {
	args := m.Called(ctx, namespace, function, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.TaskResult), args.Error(1)
}

func (m *MockServerAPI) RunTaskWithData(ctx context.Context, namespace, function string, params map[string]string, dataPath string) (*ports.TaskResult, error) {
	args := m.Called(ctx, namespace, function, params, dataPath)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.TaskResult), args.Error(1)
}

func (m *MockServerAPI) RunView(ctx context.Context, namespace, function string, viewArgs []string) (json.RawMessage, error) {
	args := m.Called(ctx, namespace, function, viewArgs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

func (m *MockServerAPI) WhoAmI(ctx context.Context) (json.RawMessage, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

func (m *MockServerAPI) DevUpdatePlugin(ctx context.Context, archivePath string) (*ports.TaskResult, error) {
	args := m.Called(ctx, archivePath)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.TaskResult), args.Error(1)
}

func (m *MockServerAPI) InstallPlugin(ctx context.Context, archivePath string) (*ports.TaskResult, error) {
	args := m.Called(ctx, archivePath)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.TaskResult), args.Error(1)
}

func (m *MockServerAPI) UninstallPlugin(ctx context.Context, name string) (*ports.TaskResult, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.TaskResult), args.Error(1)
}

func (m *MockServerAPI) ListNamespaces(ctx context.Context) (*ports.TaskResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.TaskResult), args.Error(1)
}

func (m *MockServerAPI) CreateNamespace(ctx context.Context, namespace string, taskWorkers int) (*ports.TaskResult, error) {
	args := m.Called(ctx, namespace, taskWorkers)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.TaskResult), args.Error(1)
}

func (m *MockServerAPI) DestroyNamespace(ctx context.Context, namespace string) (*ports.TaskResult, error) {
	args := m.Called(ctx, namespace)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.TaskResult), args.Error(1)
}

func (m *MockServerAPI) GetAllConfig(ctx context.Context) (map[string]json.RawMessage, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]json.RawMessage), args.Error(1)
}

func (m *MockServerAPI) GetConfig(ctx context.Context, key string) (json.RawMessage, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

func (m *MockServerAPI) SetConfig(ctx context.Context, key string, value json.RawMessage) error {
	return m.Called(ctx, key, value).Error(0)
}

func (m *MockServerAPI) SetConfigMulti(ctx context.Context, values map[string]json.RawMessage) error {
	return m.Called(ctx, values).Error(0)
}

func (m *MockServerAPI) DeleteConfig(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

var errNoCredentials = errors.New("no server credentials found")

// fakeBackend wires real local components in a temp dir and a mock server
type fakeBackend struct {
	cfg        *ports.Configuration
	configRepo *config.CompositeConfigRepository
	logger     *logging.HCLogGateway
	store      *store.FilesystemStore
	server     *MockServerAPI
	webapps    upstream.S3API
	configured *GlobalOptions
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	dir := t.TempDir()
	logger := logging.NewDiscardGateway()
	cfg := &ports.Configuration{
		PluginsDir:   filepath.Join(dir, "store"),
		SearchPolicy: string(upstream.PolicyFirstMatch),
	}
	return &fakeBackend{
		cfg:        cfg,
		configRepo: config.NewCompositeConfigRepositoryWithFile(filepath.Join(dir, "config.yaml")),
		logger:     logger,
		store:      store.NewFilesystemStore(cfg.PluginsDir, logger),
	}
}

func (b *fakeBackend) Configure(opts GlobalOptions) error {
	b.configured = &opts
	if len(opts.Sources) > 0 {
		b.cfg.Sources = opts.Sources
	}
	return nil
}

func (b *fakeBackend) Configuration() *ports.Configuration { return b.cfg }
func (b *fakeBackend) Logger() ports.LoggingGateway        { return b.logger }
func (b *fakeBackend) Store() ports.ArchiveStore           { return b.store }
func (b *fakeBackend) Builder() ports.ArchiveBuilder       { return builder.NewTarballBuilder() }

func (b *fakeBackend) ConfigRepository() ports.ConfigurationRepository { return b.configRepo }

func (b *fakeBackend) Resolver(descriptors []string) (ports.ArchiveResolver, error) {
	if len(descriptors) == 0 {
		descriptors = b.cfg.Sources
	}
	factory := &upstream.SourceFactory{Logger: b.logger}
	sources, err := factory.ParseAll(descriptors)
	if err != nil {
		return nil, err
	}
	return upstream.NewResolver(sources, upstream.PolicyFirstMatch, b.logger), nil
}

func (b *fakeBackend) Server() (ports.ServerAPI, error) {
	if b.server == nil {
		return nil, errNoCredentials
	}
	return b.server, nil
}

func (b *fakeBackend) PartTracker() ports.PartTracker { return builder.NewFileTracker() }

func (b *fakeBackend) WebappFetcher(s3Directory string) (ports.WebappFetcher, error) {
	if b.webapps == nil {
		return nil, errors.New("no bucket configured")
	}
	tree, err := upstream.NewS3Tree(s3Directory, b.webapps)
	if err != nil {
		return nil, err
	}
	return builder.NewLegacyWebapps(tree), nil
}

// runCLI executes the command line against b and returns what it printed
func runCLI(t *testing.T, b *fakeBackend, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	interactive := false
	c := &CLIContainer{Backend: b, Out: &out, Err: &errOut, Interactive: &interactive}

	cmd := NewRootCommand(c)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

// upstreamDir creates a directory of fake archives named by filename
func upstreamDir(t *testing.T, filenames ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range filenames {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("archive "+name), 0o644))
	}
	return dir
}
