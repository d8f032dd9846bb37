package logging

import (
	"io"
	"os"
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"

	"encapsia.io/cli/internal/application/ports"
)

// HCLogGateway implements ports.LoggingGateway on top of hclog
type HCLogGateway struct {
	logger hclog.Logger
	level  ports.LogLevel
	mu     sync.RWMutex
}

// NewHCLogGateway creates a logging gateway writing to output at the given level
func NewHCLogGateway(output io.Writer, level ports.LogLevel) *HCLogGateway {
	if output == nil {
		output = os.Stderr
	}
	return &HCLogGateway{
		logger: hclog.New(&hclog.LoggerOptions{
			Name:              "encapsia",
			Level:             toHCLogLevel(level),
			Output:            output,
			DisableTime:       true,
			IndependentLevels: true,
		}),
		level: level,
	}
}

// NewDiscardGateway creates a gateway that drops everything. Used by tests.
func NewDiscardGateway() *HCLogGateway {
	return NewHCLogGateway(io.Discard, ports.LogLevelError)
}

// Log logs a message with the specified level
func (g *HCLogGateway) Log(level ports.LogLevel, message string, fields map[string]interface{}) {
	args := fieldArgs(fields)
	switch level {
	case ports.LogLevelDebug:
		g.logger.Debug(message, args...)
	case ports.LogLevelWarn:
		g.logger.Warn(message, args...)
	case ports.LogLevelError:
		g.logger.Error(message, args...)
	default:
		g.logger.Info(message, args...)
	}
}

// LogError logs an error
func (g *HCLogGateway) LogError(err error, message string, fields map[string]interface{}) {
	args := append(fieldArgs(fields), "error", err)
	g.logger.Error(message, args...)
}

// SetLogLevel sets the logging level
func (g *HCLogGateway) SetLogLevel(level ports.LogLevel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.level = level
	g.logger.SetLevel(toHCLogLevel(level))
}

// GetLogLevel returns the current logging level
func (g *HCLogGateway) GetLogLevel() ports.LogLevel {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.level
}

// Named returns a gateway whose messages carry a sub-logger name
func (g *HCLogGateway) Named(name string) *HCLogGateway {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return &HCLogGateway{logger: g.logger.Named(name), level: g.level}
}

// fieldArgs flattens fields into hclog key/value pairs in key order so
// output is stable.
func fieldArgs(fields map[string]interface{}) []interface{} {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]interface{}, 0, len(fields)*2)
	for _, k := range keys {
		args = append(args, k, fields[k])
	}
	return args
}

func toHCLogLevel(level ports.LogLevel) hclog.Level {
	switch level {
	case ports.LogLevelDebug:
		return hclog.Debug
	case ports.LogLevelWarn:
		return hclog.Warn
	case ports.LogLevelError:
		return hclog.Error
	default:
		return hclog.Info
	}
}
