package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogLevel определяет уровень логирования из LOG_LEVEL.
// Возможные значения: DEBUG, INFO, WARN, ERROR (регистр не важен).
// По умолчанию: INFO
func LogLevel() slog.Level {
	switch strings.ToUpper(os.Getenv("LOG_LEVEL")) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogFormat возвращает формат логов из LOG_FORMAT: "json" (по умолчанию) или "text".
func LogFormat() string {
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "text" {
		return "text"
	}
	return "json"
}

// SetupLogger инициализирует глобальный логгер, пишущий в w.
// nil — os.Stdout. Сервис пишет в stdout, CLI — в stderr,
// чтобы логи не смешивались с выводом команд.
func SetupLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}

	level := LogLevel()
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if LogFormat() == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

type ctxKey string

// CtxLogger — ключ для логгера в контексте.
const CtxLogger ctxKey = "logger"

// WithLogger добавляет логгер в контекст.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, CtxLogger, logger)
}

// FromContext извлекает логгер из контекста.
// Если логгер не найден, возвращает глобальный.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(CtxLogger).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithPipelineRunID возвращает логгер с добавленным pipeline_run_id.
func WithPipelineRunID(logger *slog.Logger, pipelineRunID string) *slog.Logger {
	return logger.With("pipeline_run_id", pipelineRunID)
}

// WithOperationRunID возвращает логгер с добавленным operation_run_id.
func WithOperationRunID(logger *slog.Logger, operationRunID string) *slog.Logger {
	return logger.With("operation_run_id", operationRunID)
}
