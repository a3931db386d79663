// Package logging configures the process-wide logrus logger and provides HTTP
// access logging and panic recovery middleware for the chi router.
package logging

import (
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls logger setup.
type Options struct {
	Level string
	// File, when set, receives logs in addition to stderr and is rotated by size.
	File string
}

// Setup applies level, formatter and output to the standard logrus logger.
// The returned closer releases the rotating file writer, if any.
func Setup(opts Options) io.Closer {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	SetLogLevel(opts.Level)

	file := strings.TrimSpace(opts.File)
	if file == "" {
		log.SetOutput(os.Stderr)
		return nopCloser{}
	}
	rotator := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    20,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	return rotator
}

// SetLogLevel maps a user supplied level name onto logrus. Unknown names fall back to info.
func SetLogLevel(level string) {
	log.SetLevel(parseLevel(level))
}

func parseLevel(level string) log.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "verbose":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	case "quiet", "silent":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
