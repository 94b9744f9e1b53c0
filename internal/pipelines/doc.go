// Package pipelines планирует выполнение pipeline runs.
//
// Scheduler реализует точки входа планировщика:
//   - StartPipelineRun    — цикл допуска operation runs с бюджетом
//   - StartOperationRun   — допуск одного operation run
//   - StopOperations      — остановка всех незавершённых operation runs
//   - SkipOperations      — остановка выполняющихся и пропуск остальных
//   - CheckStatuses       — пересчёт агрегированного статуса pipeline run
//   - ReportStatus        — отчёт исполнителя о статусе operation run
//
// Scheduler не хранит состояние между вызовами: каждая точка входа
// загружает run по ID, а повторный вызов цикла допуска выражается
// отложенным сообщением через Dispatcher.
//
// Service подключает точки входа к очередям RabbitMQ.
package pipelines
