// Package telemetry обеспечивает наблюдаемость планировщика.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики
//
// Сервис пишет логи в едином формате и экспортирует метрики на /metrics.
package telemetry
