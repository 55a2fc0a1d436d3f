// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

// Package logging holds the process-wide structured logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	clog "github.com/charmbracelet/log"
)

// L is the package-level logger. Callers should use the helper functions
// below or With for structured fields.
var L = clog.NewWithOptions(os.Stderr, clog.Options{ReportTimestamp: true})

// Setup configures L from the log.level and log.format settings. An empty
// level keeps info; an empty format keeps text.
func Setup(w io.Writer, level, format string) error {
	opts := clog.Options{ReportTimestamp: true, Level: clog.InfoLevel}
	if level != "" {
		lvl, err := clog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		opts.Level = lvl
	}
	switch strings.ToLower(format) {
	case "", "text":
		opts.Formatter = clog.TextFormatter
	case "json":
		opts.Formatter = clog.JSONFormatter
	case "logfmt":
		opts.Formatter = clog.LogfmtFormatter
	default:
		return fmt.Errorf("invalid log format %q (want text, json or logfmt)", format)
	}
	if w == nil {
		w = os.Stderr
	}
	L = clog.NewWithOptions(w, opts)
	return nil
}

// With returns a child logger carrying the given key/value pairs.
func With(keyvals ...interface{}) *clog.Logger {
	return L.With(keyvals...)
}

// Debugf logs a debug-level formatted message.
func Debugf(format string, v ...interface{}) {
	L.Debug(fmt.Sprintf(format, v...))
}

// Infof logs an info-level formatted message.
func Infof(format string, v ...interface{}) {
	L.Info(fmt.Sprintf(format, v...))
}

// Warnf logs a warning-level formatted message.
func Warnf(format string, v ...interface{}) {
	L.Warn(fmt.Sprintf(format, v...))
}

// Errorf logs an error-level formatted message.
func Errorf(format string, v ...interface{}) {
	L.Error(fmt.Sprintf(format, v...))
}
