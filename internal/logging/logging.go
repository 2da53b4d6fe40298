package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// ParseLevel maps debug|info|warn|error to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
}

func NewHandler(w io.Writer, level slog.Level, noColor bool) slog.Handler {
	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		NoColor:    noColor,
		TimeFormat: time.RFC3339,
	})
}

// Setup installs a tint handler on stderr as the default logger. An unknown
// level falls back to info and is reported once the logger is up.
func Setup(level string, noColor bool) {
	lvl, err := ParseLevel(level)
	slog.SetDefault(slog.New(NewHandler(os.Stderr, lvl, noColor)))
	if err != nil {
		slog.Warn("Falling back to info logging", "error", err)
	}
	slog.Info("Logger initialized", "level", lvl.String())
}
