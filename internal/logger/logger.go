package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log is the process-wide logger. It writes to stderr until InitLogger runs;
// stdout is reserved for the MCP transport.
var Log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	return l
}

type LoggerConfig struct {
	LogLevel     string
	LogFile      string
	LogFileSize  int
	LogFileCount int
	LogCompress  bool
}

// InitLogger applies level and output settings. An empty LogFile keeps
// logging on stderr only.
func InitLogger(config LoggerConfig) {
	Log.SetLevel(parseLevel(config.LogLevel))

	if config.LogFile == "" {
		Log.SetOutput(os.Stderr)
		return
	}
	mw := io.MultiWriter(os.Stderr, &lumberjack.Logger{
		Filename:   config.LogFile,
		MaxSize:    config.LogFileSize, // megabytes
		MaxBackups: config.LogFileCount,
		MaxAge:     28, // days
		Compress:   config.LogCompress,
	})
	Log.SetOutput(mw)
}

func parseLevel(s string) logrus.Level {
	switch strings.ToLower(s) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
