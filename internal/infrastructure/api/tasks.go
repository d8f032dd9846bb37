package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"encapsia.io/cli/internal/application/ports"
)

// Server namespace and functions that manage plugins
const (
	PluginsManagerNamespace = "pluginsmanager"

	FuncInstallPlugin    = "icepluginsmanager.install_plugin"
	FuncUninstallPlugin  = "icepluginsmanager.uninstall_plugin"
	FuncListNamespaces   = "icepluginsmanager.list_namespaces"
	FuncCreateNamespace  = "icepluginsmanager.dev_create_namespace"
	FuncDestroyNamespace = "icepluginsmanager.dev_destroy_namespace"
	FuncDevUpdatePlugin  = "icepluginsmanager.dev_update_plugin"
)

type blobResult struct {
	BlobID string `json:"blob_id"`
}

type taskStarted struct {
	TaskID string `json:"task_id"`
}

type taskPoll struct {
	Status ports.TaskStatus `json:"status"`
	Output json.RawMessage  `json:"output"`
}

// UploadBlob uploads the file at path and returns its blob id
func (g *EncapsiaGateway) UploadBlob(ctx context.Context, path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("failed to read blob: %w", err)
	}

	r := request{
		method:      http.MethodPost,
		path:        "/v1/blobs",
		query:       url.Values{"filename": {filepath.Base(path)}},
		contentType: "application/octet-stream",
		body: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}

	var res blobResult
	if err := g.call(ctx, r, &res); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", filepath.Base(path), err)
	}
	if res.BlobID == "" {
		return "", fmt.Errorf("failed to upload %s: server returned no blob id", filepath.Base(path))
	}

	g.logger.Log(ports.LogLevelDebug, "Uploaded blob", map[string]interface{}{
		"file":    filepath.Base(path),
		"blob_id": res.BlobID,
	})
	return res.BlobID, nil
}

// RunTask starts a server task and polls until it is no longer pending. A
// task that finishes with any status other than ok is returned together with
// an error carrying its output.
func (g *EncapsiaGateway) RunTask(ctx context.Context, namespace, function string, params map[string]interface{}) (*ports.TaskResult, error) {
	if params == nil {
		params = map[string]interface{}{}
	}
	r, err := jsonRequest(http.MethodPost, taskPath(namespace, function), params)
	if err != nil {
		return nil, err
	}
	return g.runTask(ctx, namespace, function, r)
}

// RunTaskWithData runs a task whose params travel in the query string, as
// plain strings, with the file at dataPath as the request body. An empty
// dataPath sends no body.
func (g *EncapsiaGateway) RunTaskWithData(ctx context.Context, namespace, function string, params map[string]string, dataPath string) (*ports.TaskResult, error) {
	r := request{method: http.MethodPost, path: taskPath(namespace, function), query: url.Values{}}
	for k, v := range params {
		r.query.Set(k, v)
	}
	if dataPath != "" {
		if _, err := os.Stat(dataPath); err != nil {
			return nil, fmt.Errorf("failed to read task data: %w", err)
		}
		r.contentType = "application/octet-stream"
		r.body = func() (io.ReadCloser, error) {
			return os.Open(dataPath)
		}
	}
	return g.runTask(ctx, namespace, function, r)
}

func (g *EncapsiaGateway) runTask(ctx context.Context, namespace, function string, r request) (*ports.TaskResult, error) {
	var started taskStarted
	if err := g.call(ctx, r, &started); err != nil {
		return nil, fmt.Errorf("failed to start task %s: %w", function, err)
	}
	if started.TaskID == "" {
		return nil, fmt.Errorf("failed to start task %s: server returned no task id", function)
	}

	g.logger.Log(ports.LogLevelDebug, "Task started", map[string]interface{}{
		"function": function,
		"task_id":  started.TaskID,
	})

	result, err := g.pollTask(ctx, namespace, started.TaskID)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", function, err)
	}
	if result.Status != ports.TaskStatusOK {
		return result, fmt.Errorf("task %s finished with status %s: %s", function, result.Status, result.Output)
	}
	return result, nil
}

func taskPath(namespace, function string) string {
	return "/v1/tasks/" + url.PathEscape(namespace) + "/" + url.PathEscape(function)
}

func (g *EncapsiaGateway) pollTask(ctx context.Context, namespace, taskID string) (*ports.TaskResult, error) {
	r := request{
		method: http.MethodGet,
		path:   "/v1/tasks/" + url.PathEscape(namespace) + "/" + url.PathEscape(taskID),
	}

	for {
		var poll taskPoll
		if err := g.call(ctx, r, &poll); err != nil {
			return nil, err
		}
		if poll.Status != ports.TaskStatusPending && poll.Status != "" {
			return &ports.TaskResult{
				TaskID: taskID,
				Status: poll.Status,
				Output: outputText(poll.Output),
				Result: poll.Output,
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(g.pollInterval):
		}
	}
}

// outputText renders task output for display. JSON strings are unquoted.
func outputText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// InstallPlugin uploads the archive at archivePath and installs it
func (g *EncapsiaGateway) InstallPlugin(ctx context.Context, archivePath string) (*ports.TaskResult, error) {
	blobID, err := g.UploadBlob(ctx, archivePath)
	if err != nil {
		return nil, err
	}
	return g.RunTask(ctx, PluginsManagerNamespace, FuncInstallPlugin, map[string]interface{}{
		"blob_id": blobID,
	})
}

// UninstallPlugin uninstalls whatever is installed under the namespace name
func (g *EncapsiaGateway) UninstallPlugin(ctx context.Context, name string) (*ports.TaskResult, error) {
	return g.RunTask(ctx, PluginsManagerNamespace, FuncUninstallPlugin, map[string]interface{}{
		"namespace": name,
	})
}

// ListNamespaces returns the installed plugin namespaces
func (g *EncapsiaGateway) ListNamespaces(ctx context.Context) (*ports.TaskResult, error) {
	return g.RunTask(ctx, PluginsManagerNamespace, FuncListNamespaces, nil)
}

// CreateNamespace creates a development namespace served by taskWorkers workers
func (g *EncapsiaGateway) CreateNamespace(ctx context.Context, namespace string, taskWorkers int) (*ports.TaskResult, error) {
	return g.RunTask(ctx, PluginsManagerNamespace, FuncCreateNamespace, map[string]interface{}{
		"namespace":      namespace,
		"n_task_workers": taskWorkers,
	})
}

// DestroyNamespace removes a development namespace
func (g *EncapsiaGateway) DestroyNamespace(ctx context.Context, namespace string) (*ports.TaskResult, error) {
	return g.RunTask(ctx, PluginsManagerNamespace, FuncDestroyNamespace, map[string]interface{}{
		"namespace": namespace,
	})
}

// DevUpdatePlugin sends a tar.gz of changed plugin parts to the development
// namespace named in its plugin.toml
func (g *EncapsiaGateway) DevUpdatePlugin(ctx context.Context, archivePath string) (*ports.TaskResult, error) {
	return g.RunTaskWithData(ctx, PluginsManagerNamespace, FuncDevUpdatePlugin, nil, archivePath)
}

// WhoAmI returns the details of the user or system the token belongs to
func (g *EncapsiaGateway) WhoAmI(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := g.call(ctx, request{method: http.MethodGet, path: "/v1/whoami"}, &out); err != nil {
		return nil, fmt.Errorf("failed to get token owner: %w", err)
	}
	return out, nil
}

// RunView calls a view function; args become further path segments
func (g *EncapsiaGateway) RunView(ctx context.Context, namespace, function string, args []string) (json.RawMessage, error) {
	segments := []string{"/v1/view", url.PathEscape(namespace), url.PathEscape(function)}
	for _, a := range args {
		segments = append(segments, url.PathEscape(a))
	}

	var out json.RawMessage
	r := request{method: http.MethodGet, path: strings.Join(segments, "/"), raw: true}
	if err := g.call(ctx, r, &out); err != nil {
		return nil, fmt.Errorf("view %s/%s: %w", namespace, function, err)
	}
	return out, nil
}
