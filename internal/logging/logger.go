// Package logging configures the global zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LevelEnv names the environment variable holding the log level.
const LevelEnv = "IMAGE_EDIT_LOG_LEVEL"

// Init initializes the global logger on stderr.
// IMAGE_EDIT_LOG_LEVEL controls the log level: debug, info, warn, error (default: info)
func Init() {
	InitWriter(os.Stderr, os.Getenv(LevelEnv))
}

// InitWriter initializes the global logger on w at the given level.
// Stdout must never be used when stdout carries a protocol (mcp mode).
func InitWriter(w io.Writer, level string) {
	SetLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"})
}

// SetLevel sets the global level; unknown values mean info.
func SetLevel(level string) {
	zerolog.SetGlobalLevel(ParseLevel(level))
}

// ParseLevel maps a level name to a zerolog level.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
