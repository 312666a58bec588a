// Package winnytesting holds shared test helpers: a DEBUG-gated logger and
// throwaway PostgreSQL and ClickHouse containers.
package winnytesting

import (
	"log/slog"
	"os"
)

// NewLogger returns a logger that stays quiet unless DEBUG is 1 (info) or
// 2 (debug).
func NewLogger() *slog.Logger {
	var level slog.Level
	switch os.Getenv("DEBUG") {
	case "2":
		level = slog.LevelDebug
	case "1":
		level = slog.LevelInfo
	default:
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
