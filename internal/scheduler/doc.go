// Package scheduler перезапускает цикл допуска по расписанию.
//
// Цикл допуска повторяет себя отложенными сообщениями. Sweeper страхует
// этот механизм: по cron-расписанию он находит незавершённые pipeline runs
// и публикует для них pipelines.start, а для runs в STOPPING — повторную
// остановку. Повторный вызов безопасен: цикл допуска без новых кандидатов
// ничего не меняет, остановка уже остановленных operation runs — no-op.
//
// Runs обходятся страницами по (created_at, id): курсор сохраняется между
// проходами, поэтому новые runs не ждут, пока завершатся старые.
//
// Структура:
//   - scheduler.go — Sweeper (Tick, Run)
//   - cron.go      — парсинг расписаний
//
// Leader Election:
//
// При нескольких экземплярах проход выполняет только владелец
// блокировки "pipelines:sweeper" (lock.Locker).
package scheduler
