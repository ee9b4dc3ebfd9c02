// Package logging builds the process logger: zerolog behind logr, a console
// writer on a terminal and JSON elsewhere, optionally rotated into a file.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level  string // debug, info, warn or error
	Format string // auto, console or json
	// File, when set, receives the log through a rotating writer instead of
	// stderr.
	File string
}

// New returns the root logger and a closer for any file it opened.
func New(o Options) (logr.Logger, io.Closer, error) {
	level, err := ParseLevel(o.Level)
	if err != nil {
		return logr.Discard(), nopCloser{}, err
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	zerologr.NameFieldName = "logger"
	zerologr.NameSeparator = "/"
	// logr V(1) maps to zerolog debug.
	zerologr.SetMaxV(1)

	var (
		w      io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	if o.File != "" {
		if err := os.MkdirAll(filepath.Dir(o.File), 0755); err != nil {
			return logr.Discard(), nopCloser{}, fmt.Errorf("create log directory: %w", err)
		}
		lj := &lumberjack.Logger{
			Filename:   o.File,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
		w, closer = lj, lj
	}

	console := o.Format == "console" || (o.Format == "auto" && o.File == "" && IsTerminal())
	if console {
		w = zerolog.ConsoleWriter{
			Out:        w,
			NoColor:    o.File != "" || !IsTerminal(),
			TimeFormat: time.RFC3339,
		}
	}

	zl := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return zerologr.New(&zl), closer, nil
}

// ParseLevel maps a level name to zerolog. An empty name is info.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "trace":
		return zerolog.TraceLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

func IsTerminal() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
