// Package logging builds the service's slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/vedran77/relay/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a logger configured from cfg. When LOG_FILE is set output goes
// to a rotating file instead of stderr.
func New(cfg *config.Config) *slog.Logger {
	var w io.Writer = os.Stderr
	if strings.TrimSpace(cfg.LogFile) != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   cfg.LogCompression,
		}
	}
	return NewWithWriter(w, cfg.LogLevel, cfg.LogFormat)
}

// NewWithWriter builds a text or json logger at the given level.
func NewWithWriter(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
