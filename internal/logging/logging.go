// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is the concrete logger handed to components. Components accept logrus.FieldLogger.
type Logger = *logrus.Logger

// Fields represents structured logging fields.
type Fields = logrus.Fields

// New builds a logger writing to stderr. format is "json" or "text" (default);
// level is any logrus level name and falls back to info.
func New(format, level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

// WithService tags every entry with the binary name.
func WithService(logger *logrus.Logger, service string) *logrus.Entry {
	return logger.WithField("service", service)
}

// Discard returns a logger that drops everything. Used when a component is built without one.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		return Discard()
	}
	return l
}
