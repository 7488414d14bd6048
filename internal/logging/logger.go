package logging

import (
	"io"
	"os"
	"runtime"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init sets the global level and writes human-readable logs to stderr.
// level is one of debug, info, warn, error (default: info).
func Init(level string) {
	InitWriter(level, zerolog.ConsoleWriter{Out: os.Stderr})
}

// InitWriter is Init with a caller-chosen destination. Worker processes log
// plain JSON to stderr so the host can quote it in crash reports.
func InitWriter(level string, w io.Writer) {
	zerolog.SetGlobalLevel(ParseLevel(level))
	log.Logger = log.Output(w)
}

// ParseLevel maps a level name to zerolog, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Startup emits one event describing how this run is configured.
func Startup(command string, fields map[string]any) {
	log.Debug().
		Str("command", command).
		Int("pid", os.Getpid()).
		Int("num_cpu", runtime.NumCPU()).
		Str("go", runtime.Version()).
		Fields(fields).
		Msg("Starting")
}
