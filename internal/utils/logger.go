package utils

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus logger and the optional file it writes to.
type Logger struct {
	*logrus.Logger
	file *os.File
}

// NewLogger builds a JSON logger. level falls back to LOG_LEVEL and then info.
// An empty filePath logs to stderr so the terminal UI stays readable on stdout.
func NewLogger(level, filePath string) (*Logger, error) {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "ts",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})

	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	l.SetLevel(logrus.InfoLevel)
	if level != "" {
		if lvl, err := logrus.ParseLevel(level); err == nil {
			l.SetLevel(lvl)
		}
	}

	out := &Logger{Logger: l}
	if filePath == "" {
		l.SetOutput(os.Stderr)
		return out, nil
	}
	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	l.SetOutput(file)
	out.file = file
	return out, nil
}

// NewDiscardLogger is used by tests and by callers that pass no logger.
func NewDiscardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Component returns an entry tagged with the service and component names.
func (l *Logger) Component(name string) *logrus.Entry {
	return l.WithFields(logrus.Fields{"service": "taskmate", "component": name})
}

func (l *Logger) Close() {
	if l.file != nil {
		_ = l.file.Close()
	}
}
