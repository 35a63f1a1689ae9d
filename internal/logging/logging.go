// Package logging configures the process-wide structured logger. Components
// receive a *slog.Logger at construction; nothing logs through a global.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// New builds a text-handler slog logger at the named level. Unknown level
// strings fall back to info.
func New(level string, w io.Writer) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}
