// Package logger configures the process-wide zerolog logger. All packages
// log through zerolog's global logger; Setup wires its output, level and
// secret redaction once at startup.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration.
type Config struct {
	Level  string // debug, info, warn, error
	File   string // log file path, empty for console only
	Pretty bool   // human-readable console format
}

// Logger owns the log file handle opened by Setup.
type Logger struct {
	file *os.File
}

// Setup configures the global logger. Console output always goes to stderr
// so channel rendering on stdout stays clean; a file writer is added when
// configured. Secrets are redacted on every sink.
func Setup(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var console io.Writer = os.Stderr
	if cfg.Pretty {
		console = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}
	}
	writers := []io.Writer{console}

	var file *os.File
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err = os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, file)
	}

	var writer io.Writer = writers[0]
	if len(writers) > 1 {
		writer = io.MultiWriter(writers...)
	}
	writer = NewRedactor().Wrap(writer)

	log.Logger = zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Logger()

	return &Logger{file: file}, nil
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
