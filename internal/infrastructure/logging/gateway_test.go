package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"encapsia.io/cli/internal/application/ports"
)

func TestHCLogGateway_Levels(t *testing.T) {
	tests := []struct {
		name      string
		level     ports.LogLevel
		logAt     ports.LogLevel
		shouldLog bool
	}{
		{"debug at info", ports.LogLevelInfo, ports.LogLevelDebug, false},
		{"info at info", ports.LogLevelInfo, ports.LogLevelInfo, true},
		{"warn at info", ports.LogLevelInfo, ports.LogLevelWarn, true},
		{"info at error", ports.LogLevelError, ports.LogLevelInfo, false},
		{"debug at debug", ports.LogLevelDebug, ports.LogLevelDebug, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			g := NewHCLogGateway(&buf, tt.level)
			g.Log(tt.logAt, "hello", nil)
			assert.Equal(t, tt.shouldLog, bytes.Contains(buf.Bytes(), []byte("hello")))
		})
	}
}

func TestHCLogGateway_FieldsAndErrors(t *testing.T) {
	var buf bytes.Buffer
	g := NewHCLogGateway(&buf, ports.LogLevelDebug)

	g.Log(ports.LogLevelWarn, "skipping file", map[string]interface{}{"file": "junk.txt", "dir": "/store"})
	g.LogError(errors.New("boom"), "fetch failed", map[string]interface{}{"plugin": "foo"})

	out := buf.String()
	assert.Contains(t, out, "skipping file")
	assert.Contains(t, out, "dir=/store")
	assert.Contains(t, out, "file=junk.txt")
	assert.Contains(t, out, "plugin=foo")
	assert.Contains(t, out, "error=boom")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("dir=")), bytes.Index(buf.Bytes(), []byte("file=")))
}

func TestHCLogGateway_SetLogLevel(t *testing.T) {
	var buf bytes.Buffer
	g := NewHCLogGateway(&buf, ports.LogLevelInfo)
	assert.Equal(t, ports.LogLevelInfo, g.GetLogLevel())

	g.SetLogLevel(ports.LogLevelDebug)
	assert.Equal(t, ports.LogLevelDebug, g.GetLogLevel())
	g.Log(ports.LogLevelDebug, "now visible", nil)
	assert.Contains(t, buf.String(), "now visible")
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, ports.LogLevelDebug, ports.ParseLogLevel("debug"))
	assert.Equal(t, ports.LogLevelWarn, ports.ParseLogLevel("warning"))
	assert.Equal(t, ports.LogLevelInfo, ports.ParseLogLevel("loud"))
}
