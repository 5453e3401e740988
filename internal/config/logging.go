package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupLogging configures the global logrus logger. When a log file is set,
// output goes to stderr and to the rotated file. The returned closer flushes
// the file.
func SetupLogging(s LogSettings) (io.Closer, error) {
	level, err := log.ParseLevel(s.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	log.SetLevel(level)

	switch strings.ToLower(s.Format) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	if s.File == "" {
		log.SetOutput(os.Stderr)
		return nopCloser{}, nil
	}

	file := &lumberjack.Logger{
		Filename:   s.File,
		MaxSize:    s.MaxSizeMB,
		MaxBackups: s.MaxBackups,
		MaxAge:     s.MaxAgeDays,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, file))
	return file, nil
}

// RotatingFile opens an append-only file rotated at maxSizeMB that never
// deletes old segments. Used for the payment dead letter.
func RotatingFile(path string, maxSizeMB int) *lumberjack.Logger {
	return &lumberjack.Logger{Filename: path, MaxSize: maxSizeMB}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
