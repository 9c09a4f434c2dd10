// Package logging installs the process-wide structured logger.
package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// Level is the runtime-adjustable minimum level shared by every handler
// this package installs.
var Level slog.LevelVar

// Setup configures the default slog logger from LOG_LEVEL (debug, info,
// warn, error; default info) and LOG_FORMAT (json or text; default json),
// writing to stderr. The stdlib log package is redirected into the same
// stream so third-party log.Printf output stays structured.
func Setup() {
	Init(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"), os.Stderr)
}

// Init is Setup with explicit inputs, for callers that don't want the
// environment consulted (tests, mainly).
func Init(level, format string, w io.Writer) {
	Level.Set(parseLevel(level))

	opts := &slog.HandlerOptions{Level: &Level}
	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	log.SetOutput(bridge{logger})
	log.SetFlags(0)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// bridge feeds stdlib log output through slog at info level.
type bridge struct {
	logger *slog.Logger
}

func (b bridge) Write(p []byte) (int, error) {
	b.logger.Info(strings.TrimRight(string(p), "\n"), "source", "stdlib")
	return len(p), nil
}
