package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"encapsia.io/cli/internal/application/ports"
	"encapsia.io/cli/internal/core/plugin"
)

// Mock implementations

type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Resolve(ctx context.Context, req plugin.VersionRequest) (ports.Candidate, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(ports.Candidate), args.Error(1)
}

// Fetch returns a fresh reader over the body string given to Return
func (m *MockResolver) Fetch(ctx context.Context, c ports.Candidate) (io.ReadCloser, error) {
	args := m.Called(ctx, c)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(args.String(0))), nil
}

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

type nopLogger struct{}

func (nopLogger) Log(ports.LogLevel, string, map[string]interface{}) {}
func (nopLogger) LogError(error, string, map[string]interface{})     {}
func (nopLogger) SetLogLevel(ports.LogLevel)                         {}
func (nopLogger) GetLogLevel() ports.LogLevel                        { return ports.LogLevelInfo }

// memStore is an in-memory ArchiveStore keeping archive bodies by key
type memStore struct {
	ids    []plugin.ArchiveID
	bodies map[plugin.Key]string
	finds  int
	err    error
}

func newMemStore() *memStore {
	return &memStore{bodies: make(map[plugin.Key]string)}
}

func (s *memStore) put(id plugin.ArchiveID, body string) {
	if _, ok := s.bodies[id.Key()]; !ok {
		s.ids = append(s.ids, id)
	}
	s.bodies[id.Key()] = body
}

func (s *memStore) entry(id plugin.ArchiveID) ports.StoreEntry {
	return ports.StoreEntry{ID: id, Path: "/store/" + id.Filename(), Size: int64(len(s.bodies[id.Key()]))}
}

func (s *memStore) Dir() string { return "/store" }

func (s *memStore) ListAll() ([]ports.StoreEntry, error) {
	var entries []ports.StoreEntry
	for _, id := range s.ids {
		entries = append(entries, s.entry(id))
	}
	return entries, nil
}

func (s *memStore) Has(id plugin.ArchiveID) (bool, error) {
	_, ok := s.bodies[id.Key()]
	return ok, nil
}

func (s *memStore) Get(id plugin.ArchiveID) (ports.StoreEntry, error) {
	if _, ok := s.bodies[id.Key()]; !ok {
		return ports.StoreEntry{}, plugin.ErrNotFound
	}
	return s.entry(id), nil
}

func (s *memStore) Latest(name, variant string, includePrereleases bool) (ports.StoreEntry, bool, error) {
	req, err := plugin.LatestRequest(name, variant, "", includePrereleases)
	if err != nil {
		return ports.StoreEntry{}, false, err
	}
	return s.Find(req)
}

func (s *memStore) Find(req plugin.VersionRequest) (ports.StoreEntry, bool, error) {
	s.finds++
	if s.err != nil {
		return ports.StoreEntry{}, false, s.err
	}
	id, ok := req.Select(s.ids)
	if !ok {
		return ports.StoreEntry{}, false, nil
	}
	return s.entry(id), true, nil
}

func (s *memStore) Add(src io.Reader, id plugin.ArchiveID) (ports.StoreEntry, error) {
	body, err := io.ReadAll(src)
	if err != nil {
		return ports.StoreEntry{}, err
	}
	if existing, ok := s.bodies[id.Key()]; ok && existing != string(body) {
		return ports.StoreEntry{}, fmt.Errorf("%w: %s", plugin.ErrDuplicateEntry, id)
	}
	s.put(id, string(body))
	return s.entry(id), nil
}

func (s *memStore) Replace(src io.Reader, id plugin.ArchiveID) (ports.StoreEntry, error) {
	body, err := io.ReadAll(src)
	if err != nil {
		return ports.StoreEntry{}, err
	}
	s.put(id, string(body))
	return s.entry(id), nil
}

func (s *memStore) Remove(id plugin.ArchiveID) error {
	if _, ok := s.bodies[id.Key()]; !ok {
		return plugin.ErrNotFound
	}
	delete(s.bodies, id.Key())
	for i, stored := range s.ids {
		if stored.Key() == id.Key() {
			s.ids = append(s.ids[:i], s.ids[i+1:]...)
			break
		}
	}
	return nil
}

// Helpers

func mustRequests(t *testing.T, specs ...string) []plugin.VersionRequest {
	t.Helper()
	reqs := make([]plugin.VersionRequest, len(specs))
	for i, s := range specs {
		req, err := plugin.ParseRequest(s)
		require.NoError(t, err)
		reqs[i] = req
	}
	return reqs
}

func candidate(name, version, source string) ports.Candidate {
	id := plugin.MustArchiveID(name, version, "")
	return ports.Candidate{ID: id, Source: source, Location: source + "/" + id.Filename()}
}

func named(name string) interface{} {
	return mock.MatchedBy(func(req plugin.VersionRequest) bool { return req.Name == name })
}

func kinds(result BatchResult) []OutcomeKind {
	out := make([]OutcomeKind, len(result.Outcomes))
	for i, o := range result.Outcomes {
		out[i] = o.Kind
	}
	return out
}
