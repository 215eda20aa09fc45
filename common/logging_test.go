package common

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputSplitter_Routing(t *testing.T) {
	tests := []struct {
		name         string
		logMessage   []byte
		expectStderr bool
	}{
		{
			name:         "TextError",
			logMessage:   []byte(`time="2024-01-15T10:30:00Z" level=error msg="Database connection failed"`),
			expectStderr: true,
		},
		{
			name:         "JSONError",
			logMessage:   []byte(`{"level":"error","msg":"sweep failed"}`),
			expectStderr: true,
		},
		{
			name:         "TextFatal",
			logMessage:   []byte(`level=fatal msg="boom"`),
			expectStderr: true,
		},
		{
			name:         "InfoLevel",
			logMessage:   []byte(`time="2024-01-15T10:30:00Z" level=info msg="Service started"`),
			expectStderr: false,
		},
		{
			name:         "JSONWarning",
			logMessage:   []byte(`{"level":"warning","msg":"cache invalidation failed"}`),
			expectStderr: false,
		},
		{
			name:         "ErrorInMessage",
			logMessage:   []byte(`time="2024-01-15T10:30:00Z" level=info msg="error occurred but not error level"`),
			expectStderr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			splitter := &OutputSplitter{Stdout: &stdout, Stderr: &stderr}

			n, err := splitter.Write(tt.logMessage)
			require.NoError(t, err)
			assert.Equal(t, len(tt.logMessage), n)

			if tt.expectStderr {
				assert.Equal(t, tt.logMessage, stderr.Bytes())
				assert.Zero(t, stdout.Len())
			} else {
				assert.Equal(t, tt.logMessage, stdout.Bytes())
				assert.Zero(t, stderr.Len())
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, logrus.WarnLevel, ParseLevel("WARN"))
	assert.Equal(t, logrus.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, logrus.ErrorLevel, ParseLevel(LogLevelError))
	assert.Equal(t, logrus.InfoLevel, ParseLevel("verbose"))
}

func TestConfigure_JSONFields(t *testing.T) {
	logger := logrus.New()
	Configure(logger, LoggerConfig{Level: LogLevelDebug, Format: "json", Service: "optrack", Version: "1.2.3"})

	var stdout, stderr bytes.Buffer
	logger.SetOutput(&OutputSplitter{Stdout: &stdout, Stderr: &stderr})

	ServiceLogger(logger, LoggerConfig{Service: "optrack", Version: "1.2.3"}).
		WithField("operation_id", "abc").
		Debug("operation_created")

	require.NotZero(t, stdout.Len())
	assert.Zero(t, stderr.Len())

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &entry))
	assert.Equal(t, "operation_created", entry["msg"])
	assert.Equal(t, "optrack", entry["service"])
	assert.Equal(t, "1.2.3", entry["version"])
	assert.Equal(t, "abc", entry["operation_id"])
	assert.Equal(t, "debug", entry["level"])
}

func TestConfigure_TextFormat(t *testing.T) {
	logger := logrus.New()
	Configure(logger, LoggerConfig{Level: LogLevelInfo, Format: "text"})

	var stdout, stderr bytes.Buffer
	logger.SetOutput(&OutputSplitter{Stdout: &stdout, Stderr: &stderr})

	logger.Debug("hidden")
	logger.Error("sweep failed")

	assert.Zero(t, stdout.Len())
	assert.Contains(t, stderr.String(), "level=error")
	assert.Contains(t, stderr.String(), `msg="sweep failed"`)
}
