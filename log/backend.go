// Package log provides the per-component named-logger backend used across
// workerbus: callers obtain a *logging.Logger from a shared Backend via
// GetLogger(name), rather than importing a logging library directly.
package log

import (
	"fmt"
	"io"
	"os"

	logging "gopkg.in/op/go-logging.v1"
)

// Backend owns the op/go-logging backend installed for the process and
// hands out named loggers. op/go-logging keeps its backend as process-global
// state (logging.SetBackend), so only one Backend should be constructed per
// process; GetLogger is cheap and may be called repeatedly for the same
// module name.
type Backend struct {
	level logging.Level
}

// New creates a Backend writing to w at the given level ("DEBUG", "INFO",
// "WARNING", "ERROR", "CRITICAL"). An empty level defaults to "INFO". It
// installs itself as the process's op/go-logging backend.
func New(w io.Writer, level string) (*Backend, error) {
	if level == "" {
		level = "INFO"
	}
	lvl, err := logging.LogLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log: invalid level %q: %w", level, err)
	}
	fmtBackend := logging.NewLogBackend(w, "", 0)
	formatted := logging.NewBackendFormatter(fmtBackend, logging.MustStringFormatter(
		`%{time:2006-01-02 15:04:05.000} %{level:.4s} %{module}: %{message}`,
	))
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(lvl, "")
	logging.SetBackend(leveled)
	return &Backend{level: lvl}, nil
}

// NewStderr is the common-case constructor, writing to os.Stderr.
func NewStderr(level string) (*Backend, error) {
	return New(os.Stderr, level)
}

// GetLogger returns a named logger. The logger draws from the backend
// installed by New/NewStderr.
func (b *Backend) GetLogger(module string) *logging.Logger {
	return logging.MustGetLogger(module)
}
