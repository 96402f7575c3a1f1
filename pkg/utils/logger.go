package utils

import (
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

var (
	logger     *slog.Logger
	loggerOnce sync.Once
)

// InitLogger initializes the process-wide logger. Safe to call more than once.
//
// Log level is taken from DIALECTICA_LOG_LEVEL (debug, info, warn, error),
// defaulting to info. Output is colorized when stderr is a terminal.
func InitLogger() {
	loggerOnce.Do(func() {
		level := slog.LevelInfo
		switch strings.ToLower(os.Getenv("DIALECTICA_LOG_LEVEL")) {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		w := os.Stderr
		handler := tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    !isatty.IsTerminal(w.Fd()),
		})
		logger = slog.New(handler)
		slog.SetDefault(logger)
	})
}

// GetLogger returns the process-wide logger, initializing it if needed.
func GetLogger() *slog.Logger {
	InitLogger()
	return logger
}
