package logger

import (
	"log/slog"
	"os"

	"infra-rag-platform/internal/config"
)

var Logger *slog.Logger

// New builds the JSON logger handed to every component.
func New(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.GinMode == "debug" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.GinMode == "debug", // Only add source in debug mode
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, opts)).With("service", cfg.ServiceName)
}

// InitLogger initializes the process logger and makes it the slog default
func InitLogger(cfg *config.Config) *slog.Logger {
	Logger = New(cfg)
	slog.SetDefault(Logger)
	Logger.Debug("Structured logging initialized", "mode", cfg.GinMode)
	return Logger
}

// Helper functions for bootstrap code
func Info(msg string, args ...any) {
	if Logger != nil {
		Logger.Info(msg, args...)
	}
}

func Error(msg string, args ...any) {
	if Logger != nil {
		Logger.Error(msg, args...)
	}
}

func Debug(msg string, args ...any) {
	if Logger != nil {
		Logger.Debug(msg, args...)
	}
}

func Warn(msg string, args ...any) {
	if Logger != nil {
		Logger.Warn(msg, args...)
	}
}
