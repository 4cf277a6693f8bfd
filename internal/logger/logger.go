// Package logger builds the structured loggers used by the bot.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

// New creates a logger writing to w at the given level, without timestamps
func New(w io.Writer, level string) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{
		Level:           ParseLevel(level),
		ReportTimestamp: false,
	})
	logger.SetStyles(styles())
	return logger
}

// Open appends to the log file at path, creating it if needed
func Open(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
}

// ParseLevel converts a level name to a log level, defaulting to info
func ParseLevel(level string) log.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return log.DebugLevel
	case "info":
		return log.InfoLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	case "fatal":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

// ValidLevel reports whether level names a known log level
func ValidLevel(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "info", "warn", "warning", "error", "fatal":
		return true
	}
	return false
}

func styles() *log.Styles {
	s := log.DefaultStyles()

	// Component prefixes (irc, bot) in the console accent colour.
	s.Prefix = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#5EEAD4")).
		Bold(true)
	s.Keys["session"] = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	s.Values["session"] = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	s.Keys["error"] = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	s.Values["error"] = lipgloss.NewStyle().Bold(true)

	return s
}
