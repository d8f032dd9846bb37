package ports

import (
	"context"
	"encoding/json"
)

// ServerAPI defines the interface for the Encapsia server operations the CLI uses
type ServerAPI interface {
	// UploadBlob uploads a file and returns its blob id
	UploadBlob(ctx context.Context, path string) (string, error)

	// RunTask runs a server task and waits for it to finish
	RunTask(ctx context.Context, namespace, function string, params map[string]interface{}) (*TaskResult, error)

	// RunTaskWithData runs a server task with string params and the file at
	// dataPath as its payload. An empty dataPath sends no payload.
	RunTaskWithData(ctx context.Context, namespace, function string, params map[string]string, dataPath string) (*TaskResult, error)

	// RunView calls a view function and returns its JSON answer
	RunView(ctx context.Context, namespace, function string, args []string) (json.RawMessage, error)

	// WhoAmI returns the details of the token's owner
	WhoAmI(ctx context.Context) (json.RawMessage, error)

	// InstallPlugin uploads the archive at path and installs it
	InstallPlugin(ctx context.Context, archivePath string) (*TaskResult, error)

	// UninstallPlugin uninstalls whatever is installed under the namespace name
	UninstallPlugin(ctx context.Context, name string) (*TaskResult, error)

	// ListNamespaces returns the installed plugin namespaces
	ListNamespaces(ctx context.Context) (*TaskResult, error)

	// CreateNamespace creates a development namespace
	CreateNamespace(ctx context.Context, namespace string, taskWorkers int) (*TaskResult, error)

	// DestroyNamespace removes a development namespace
	DestroyNamespace(ctx context.Context, namespace string) (*TaskResult, error)

	// DevUpdatePlugin sends a tar.gz of changed plugin parts to a development namespace
	DevUpdatePlugin(ctx context.Context, archivePath string) (*TaskResult, error)

	// GetAllConfig returns the whole server configuration
	GetAllConfig(ctx context.Context) (map[string]json.RawMessage, error)

	// GetConfig returns the value stored against key
	GetConfig(ctx context.Context, key string) (json.RawMessage, error)

	// SetConfig stores value against key
	SetConfig(ctx context.Context, key string, value json.RawMessage) error

	// SetConfigMulti merges many keys into the configuration
	SetConfigMulti(ctx context.Context, values map[string]json.RawMessage) error

	// DeleteConfig deletes key from the configuration
	DeleteConfig(ctx context.Context, key string) error
}

// TaskStatus is the final status of a server task
type TaskStatus string

const (
	TaskStatusPending TaskStatus = "pending"
	TaskStatusOK      TaskStatus = "ok"
	TaskStatusFailed  TaskStatus = "failed"
)

// TaskResult is the outcome of a finished server task
type TaskResult struct {
	TaskID string          `json:"task_id"`
	Status TaskStatus      `json:"status"`
	Output string          `json:"output"`
	Result json.RawMessage `json:"result,omitempty"`
}

// LoggingGateway defines the interface for logging operations
type LoggingGateway interface {
	// Log logs a message with the specified level
	Log(level LogLevel, message string, fields map[string]interface{})

	// LogError logs an error
	LogError(err error, message string, fields map[string]interface{})

	// SetLogLevel sets the logging level
	SetLogLevel(level LogLevel)

	// GetLogLevel returns the current logging level
	GetLogLevel() LogLevel
}

// LogLevel defines the logging level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ParseLogLevel maps a level name to a LogLevel, falling back to info
func ParseLogLevel(s string) LogLevel {
	switch LogLevel(s) {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return LogLevel(s)
	case "warning":
		return LogLevelWarn
	default:
		return LogLevelInfo
	}
}
