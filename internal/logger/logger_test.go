package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, parseLevel("Debug"))
	assert.Equal(t, logrus.WarnLevel, parseLevel("warning"))
	assert.Equal(t, logrus.ErrorLevel, parseLevel("ERROR"))
	assert.Equal(t, logrus.InfoLevel, parseLevel(""))
}

func TestInitLogger_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recordgrid.log")
	InitLogger(LoggerConfig{LogLevel: "info", LogFile: path, LogFileSize: 1, LogFileCount: 1})
	t.Cleanup(func() { InitLogger(LoggerConfig{}) })

	Log.Info("hello from test")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from test")
}
