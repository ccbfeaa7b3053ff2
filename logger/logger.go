// Package logger provides the process-wide structured logger used by every
// other package in the module.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// L is the shared logger instance. It is safe for concurrent use.
var L = logrus.New()

func init() {
	L.SetFormatter(&textFormatter{timestampFormat: "15:04:05.000"})
	L.SetLevel(logrus.InfoLevel)
	L.SetOutput(os.Stderr)
}

// Config controls where log output goes and at what level.
type Config struct {
	Level string // debug, info, warn, error
	Path  string // empty means stderr
}

// Init reconfigures the shared logger. Call once at process start.
func Init(cfg Config) error {
	L.SetLevel(parseLevel(cfg.Level))
	if cfg.Path == "" {
		L.SetOutput(os.Stderr)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	L.SetOutput(f)
	return nil
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "trace":
		return logrus.TraceLevel
	default:
		return logrus.InfoLevel
	}
}

// textFormatter renders "HH:MM:SS.mmm LEVEL caller: message" lines.
type textFormatter struct {
	timestampFormat string
}

func (f *textFormatter) Format(e *logrus.Entry) ([]byte, error) {
	level := strings.ToUpper(e.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}
	return []byte(fmt.Sprintf("%s %-4s %s: %s\n",
		e.Time.Format(f.timestampFormat), level, caller(), e.Message)), nil
}

// caller walks past the logrus frames to find the first call site outside
// this package.
func caller() string {
	for i := 2; i < 16; i++ {
		_, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if strings.Contains(file, "sirupsen/logrus") || strings.HasSuffix(file, "logger/logger.go") {
			continue
		}
		return fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}
	return "?"
}
