// Package logging builds the process logger from configuration.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rnts08/eth-riskradar/internal/config"
	"github.com/sirupsen/logrus"
)

// New returns a logger configured by cfg and a function that releases the
// log file, if one was opened. Output goes to stderr unless cfg.File is set.
func New(cfg config.LogConfig) (*logrus.Logger, func() error, error) {
	logger := logrus.New()
	closer := func() error { return nil }

	level, err := logrus.ParseLevel(orDefault(cfg.Level, "info"))
	if err != nil {
		return nil, closer, fmt.Errorf("log level: %w", err)
	}
	logger.SetLevel(level)

	switch orDefault(cfg.Format, "text") {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, closer, fmt.Errorf("log format %q: want text or json", cfg.Format)
	}

	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, closer, fmt.Errorf("log file open error: %w", err)
		}
		logger.SetOutput(f)
		closer = f.Close
	} else {
		logger.SetOutput(os.Stderr)
	}
	return logger, closer, nil
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
