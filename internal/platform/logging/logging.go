package logging

import (
	"fmt"
	"log/slog"

	"facecam-server/internal/utils"
)

// Config captures logging configuration options.
type Config struct {
	Level    string
	Dir      string
	Filename string
}

// Logger provides access to both the slog handler and the tagged project logger.
type Logger struct {
	legacy *utils.Logger
}

// New creates a Logger and registers it as utils.DefaultLogger when none is set.
func New(cfg Config) (*Logger, error) {
	legacy, err := utils.NewLogger(&utils.LogCfg{
		LogLevel: cfg.Level,
		LogDir:   cfg.Dir,
		LogFile:  cfg.Filename,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return &Logger{legacy: legacy}, nil
}

// Legacy exposes the tagged printf-style logger used across the code base.
func (l *Logger) Legacy() *utils.Logger {
	return l.legacy
}

// Slog exposes the structured logger for new integrations.
func (l *Logger) Slog() *slog.Logger {
	return l.legacy.Slog()
}

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	return l.legacy.Close()
}
