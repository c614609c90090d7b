package logging

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

type Options struct {
	Level  string
	JSON   bool
	Output io.Writer // default os.Stderr
}

var def atomic.Value

func init() {
	def.Store(New(Options{}))
}

// New builds a logger without installing it.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	cfg := &slog.HandlerOptions{Level: parseLevel(opts.Level)}
	if opts.JSON {
		return slog.New(slog.NewJSONHandler(out, cfg))
	}
	return slog.New(slog.NewTextHandler(out, cfg))
}

// Configure replaces the process-wide logger returned by L.
func Configure(opts Options) {
	def.Store(New(opts))
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

func L() *slog.Logger {
	l, _ := def.Load().(*slog.Logger)
	return l
}

// InitFromEnv reads SPANHUB_LOG_LEVEL and SPANHUB_LOG_JSON.
func InitFromEnv() {
	json, _ := strconv.ParseBool(strings.TrimSpace(os.Getenv("SPANHUB_LOG_JSON")))
	Configure(Options{Level: os.Getenv("SPANHUB_LOG_LEVEL"), JSON: json})
}
