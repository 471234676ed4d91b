package logger

import (
	"io"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	corelogger "github.com/kilianp07/stationctl/core/logger"
)

// Logger mirrors the core logger interface.
type Logger = corelogger.Logger

// NopLogger discards every message.
type NopLogger = corelogger.Nop

// Options selects the level and destination of service logs.
type Options struct {
	Level string
	// File switches output from stdout to a size-rotated file.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

var (
	outMu  sync.RWMutex
	output io.Writer
	closer io.Closer
)

// Configure applies opts to every logger created afterwards. The returned
// function closes the log file, if any.
func Configure(opts Options) func() error {
	SetLevel(opts.Level)
	outMu.Lock()
	defer outMu.Unlock()
	if closer != nil {
		_ = closer.Close()
		output, closer = nil, nil
	}
	if opts.File == "" {
		return func() error { return nil }
	}
	lj := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
	}
	output, closer = lj, lj
	return lj.Close
}

// New returns a Logger tagged with component. Output goes to the configured
// file, or stdout formatted according to APP_ENV.
func New(component string) Logger {
	outMu.RLock()
	w := output
	outMu.RUnlock()
	if w != nil {
		return NewWithWriter(w, component)
	}
	return NewZerologLogger(component)
}

func stdout() io.Writer { return os.Stdout }
