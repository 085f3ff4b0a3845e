package util

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

type Logger = *log.Logger

func NewLogger() *log.Logger {
	return NewLoggerWithOptions(os.Stdout, "info", "text")
}

// NewLoggerWithOptions builds a logger for the given level and format names.
// Unknown levels fall back to info and unknown formats to text.
func NewLoggerWithOptions(w io.Writer, level, format string) *log.Logger {
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = log.InfoLevel
	}
	formatter := log.TextFormatter
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		formatter = log.JSONFormatter
	case "logfmt":
		formatter = log.LogfmtFormatter
	}
	return log.NewWithOptions(w, log.Options{
		Level:           lvl,
		Formatter:       formatter,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
}

// DiscardLogger returns a logger that drops everything; used by tests.
func DiscardLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}
