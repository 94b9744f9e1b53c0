// Package launcher — исполнительный слой для допуска operation runs.
//
// Планировщик не запускает работу сам. Сначала он спрашивает Checker, можно ли
// принять operation run прямо сейчас, затем захватывает run (SCHEDULED) и
// только после этого вызывает Launch. Ответ — одно из трёх решений:
//   - Accepted — работа принята, operation run переходит в SCHEDULED
//   - Deferred — принять сейчас нельзя, планировщик повторит позже;
//     отложенный после захвата run возвращается в CREATED
//   - Rejected — работа никогда не будет принята, operation run → FAILED
//
// Реализации:
//   - Registry     — выбор launcher по kind операции
//   - QueueLauncher — публикация в очередь operations.ready
//   - ClassLimiter  — потолок SCHEDULED/RUNNING на класс конкурентности
package launcher
